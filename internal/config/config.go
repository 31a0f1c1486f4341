// Package config loads the bot configuration from the environment,
// optionally seeded from a .env file.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// Config holds everything the bot needs at runtime.
type Config struct {
	CursorAPIKey  string `validate:"required"`
	TelegramToken string `validate:"required"`
	APIBase       string `validate:"required,url"`
	RepositoryURL string `validate:"required,url"`
	AllowedUserID int64  `validate:"required,gt=0"`

	DatabasePath string `validate:"required"`

	HealthBinding string
	HealthPort    string `validate:"required,numeric"`

	AgentWaitTimeout  time.Duration `validate:"required,gt=0"`
	AgentPollInterval time.Duration `validate:"required,gt=0"`
}

// Load reads the configuration from the environment. A .env file in the
// working directory is loaded first when present.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		CursorAPIKey:  os.Getenv("CURSOR_API_KEY"),
		TelegramToken: os.Getenv("TELEGRAM_TOKEN"),
		APIBase:       envORdefault("API_BASE", "https://api.cursor.com/v0"),
		RepositoryURL: envORdefault("CURSOR_REPOSITORY_URL", "https://github.com/microsoft/vscode"),
		DatabasePath:  envORdefault("DATABASE_PATH", "./cursorbot.db"),
		HealthBinding: envORdefault("HEALTH_BINDING", "0.0.0.0"),
		HealthPort:    envORdefault("HEALTH_PORT", "8080"),
	}

	var err error
	cfg.AllowedUserID, err = strconv.ParseInt(envORdefault("ALLOWED_USER_ID", "215985701"), 10, 64)
	if err != nil {
		return cfg, errors.Wrap(err, "ALLOWED_USER_ID must be an integer")
	}

	cfg.AgentWaitTimeout, err = time.ParseDuration(envORdefault("AGENT_WAIT_TIMEOUT", "300s"))
	if err != nil {
		return cfg, errors.Wrap(err, "AGENT_WAIT_TIMEOUT must be a duration")
	}

	cfg.AgentPollInterval, err = time.ParseDuration(envORdefault("AGENT_POLL_INTERVAL", "5s"))
	if err != nil {
		return cfg, errors.Wrap(err, "AGENT_POLL_INTERVAL must be a duration")
	}

	if err := validator.New().Struct(cfg); err != nil {
		return cfg, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

func envORdefault(name, fallback string) string {
	p := os.Getenv(name)
	if len(p) == 0 {
		return fallback
	}
	return p
}
