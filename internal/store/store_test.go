package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.InitSchema())
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSelectedRepository(t *testing.T) {
	s := newTestStore(t)

	repo, err := s.SelectedRepository(1)
	require.NoError(t, err)
	assert.Empty(t, repo)

	require.NoError(t, s.SetSelectedRepository(1, "https://github.com/acme/app"))

	repo, err = s.SelectedRepository(1)
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/acme/app", repo)

	// Upsert replaces the previous choice.
	require.NoError(t, s.SetSelectedRepository(1, "https://github.com/acme/other"))
	repo, err = s.SelectedRepository(1)
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/acme/other", repo)
}

func TestLastAgentBinding(t *testing.T) {
	s := newTestStore(t)

	id, err := s.LastAgentID(1)
	require.NoError(t, err)
	assert.Empty(t, id)

	require.NoError(t, s.SetLastAgentID(1, "agent-1"))
	id, err = s.LastAgentID(1)
	require.NoError(t, err)
	assert.Equal(t, "agent-1", id)

	// Binding an agent must not clobber the selected repository.
	require.NoError(t, s.SetSelectedRepository(1, "https://github.com/acme/app"))
	require.NoError(t, s.SetLastAgentID(1, "agent-2"))
	repo, err := s.SelectedRepository(1)
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/acme/app", repo)

	require.NoError(t, s.ClearLastAgentID(1))
	id, err = s.LastAgentID(1)
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestFavorites(t *testing.T) {
	s := newTestStore(t)

	repos, err := s.FavoriteRepositories(1)
	require.NoError(t, err)
	assert.Empty(t, repos)

	require.NoError(t, s.AddFavorite(1, "https://github.com/acme/b"))
	require.NoError(t, s.AddFavorite(1, "https://github.com/acme/a"))
	// Duplicates are ignored.
	require.NoError(t, s.AddFavorite(1, "https://github.com/acme/a"))

	repos, err = s.FavoriteRepositories(1)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://github.com/acme/a", "https://github.com/acme/b"}, repos)

	fav, err := s.IsFavorite(1, "https://github.com/acme/a")
	require.NoError(t, err)
	assert.True(t, fav)

	// Favorites are per user.
	fav, err = s.IsFavorite(2, "https://github.com/acme/a")
	require.NoError(t, err)
	assert.False(t, fav)

	require.NoError(t, s.RemoveFavorite(1, "https://github.com/acme/a"))
	fav, err = s.IsFavorite(1, "https://github.com/acme/a")
	require.NoError(t, err)
	assert.False(t, fav)
}

func TestPruneAgentBindings(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.SetLastAgentID(1, "agent-old"))
	require.NoError(t, s.SetLastAgentID(2, "agent-fresh"))
	require.NoError(t, s.SetSelectedRepository(3, "https://github.com/acme/app"))

	// Backdate the first binding past the retention window.
	_, err := s.Exec(`UPDATE user_state SET updated_at = datetime('now', '-100 hours') WHERE user_id = 1`)
	require.NoError(t, err)

	n, err := s.PruneAgentBindings(72 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	id, err := s.LastAgentID(1)
	require.NoError(t, err)
	assert.Empty(t, id)

	id, err = s.LastAgentID(2)
	require.NoError(t, err)
	assert.Equal(t, "agent-fresh", id)

	// Nothing left to prune.
	n, err = s.PruneAgentBindings(72 * time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)
}
