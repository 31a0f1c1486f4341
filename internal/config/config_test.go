package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("CURSOR_API_KEY", "key")
	t.Setenv("TELEGRAM_TOKEN", "token")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://api.cursor.com/v0", cfg.APIBase)
	assert.Equal(t, "https://github.com/microsoft/vscode", cfg.RepositoryURL)
	assert.Equal(t, int64(215985701), cfg.AllowedUserID)
	assert.Equal(t, "./cursorbot.db", cfg.DatabasePath)
	assert.Equal(t, "0.0.0.0", cfg.HealthBinding)
	assert.Equal(t, "8080", cfg.HealthPort)
	assert.Equal(t, 300*time.Second, cfg.AgentWaitTimeout)
	assert.Equal(t, 5*time.Second, cfg.AgentPollInterval)
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("API_BASE", "https://api.example.com/v1")
	t.Setenv("CURSOR_REPOSITORY_URL", "https://github.com/acme/app")
	t.Setenv("ALLOWED_USER_ID", "42")
	t.Setenv("DATABASE_PATH", "/data/bot.db")
	t.Setenv("AGENT_WAIT_TIMEOUT", "10m")
	t.Setenv("AGENT_POLL_INTERVAL", "2s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.com/v1", cfg.APIBase)
	assert.Equal(t, "https://github.com/acme/app", cfg.RepositoryURL)
	assert.Equal(t, int64(42), cfg.AllowedUserID)
	assert.Equal(t, "/data/bot.db", cfg.DatabasePath)
	assert.Equal(t, 10*time.Minute, cfg.AgentWaitTimeout)
	assert.Equal(t, 2*time.Second, cfg.AgentPollInterval)
}

func TestLoadMissingAPIKey(t *testing.T) {
	t.Setenv("CURSOR_API_KEY", "")
	t.Setenv("TELEGRAM_TOKEN", "token")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CursorAPIKey")
}

func TestLoadBadUserID(t *testing.T) {
	setRequired(t)
	t.Setenv("ALLOWED_USER_ID", "not-a-number")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ALLOWED_USER_ID")
}

func TestLoadBadTimeout(t *testing.T) {
	setRequired(t)
	t.Setenv("AGENT_WAIT_TIMEOUT", "five minutes")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AGENT_WAIT_TIMEOUT")
}

func TestLoadBadRepositoryURL(t *testing.T) {
	setRequired(t)
	t.Setenv("CURSOR_REPOSITORY_URL", "not a url")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RepositoryURL")
}
