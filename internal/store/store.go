// Package store persists per-user bot state (selected repository, favorite
// repositories, last active agent) in sqlite.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

type Store struct {
	*sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS user_state (
	user_id       INTEGER PRIMARY KEY,
	selected_repo TEXT NOT NULL DEFAULT '',
	last_agent_id TEXT NOT NULL DEFAULT '',
	updated_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS favorite_repos (
	user_id  INTEGER NOT NULL,
	repo_url TEXT NOT NULL,
	PRIMARY KEY (user_id, repo_url)
);
`

func Open(dbPath string) (*Store, error) {
	// Enable Foreign Keys
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, errors.Wrap(err, "failed to open db")
	}

	if err := db.Ping(); err != nil {
		return nil, errors.Wrap(err, "failed to ping db")
	}

	return &Store{db}, nil
}

func (s *Store) InitSchema() error {
	_, err := s.Exec(schema)
	return errors.Wrap(err, "failed to apply schema")
}

// SelectedRepository returns the user's chosen repository URL, or an empty
// string if none was chosen.
func (s *Store) SelectedRepository(userID int64) (string, error) {
	var repo string
	err := s.QueryRow(`SELECT selected_repo FROM user_state WHERE user_id = ?`, userID).Scan(&repo)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return repo, errors.Wrap(err, "selected repository")
}

func (s *Store) SetSelectedRepository(userID int64, repositoryURL string) error {
	_, err := s.Exec(`
		INSERT INTO user_state (user_id, selected_repo, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(user_id) DO UPDATE SET selected_repo = excluded.selected_repo, updated_at = CURRENT_TIMESTAMP`,
		userID, repositoryURL)
	return errors.Wrap(err, "set selected repository")
}

// LastAgentID returns the agent currently bound for follow-ups, or an
// empty string.
func (s *Store) LastAgentID(userID int64) (string, error) {
	var id string
	err := s.QueryRow(`SELECT last_agent_id FROM user_state WHERE user_id = ?`, userID).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return id, errors.Wrap(err, "last agent id")
}

func (s *Store) SetLastAgentID(userID int64, agentID string) error {
	_, err := s.Exec(`
		INSERT INTO user_state (user_id, last_agent_id, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(user_id) DO UPDATE SET last_agent_id = excluded.last_agent_id, updated_at = CURRENT_TIMESTAMP`,
		userID, agentID)
	return errors.Wrap(err, "set last agent id")
}

func (s *Store) ClearLastAgentID(userID int64) error {
	_, err := s.Exec(`UPDATE user_state SET last_agent_id = '', updated_at = CURRENT_TIMESTAMP WHERE user_id = ?`, userID)
	return errors.Wrap(err, "clear last agent id")
}

func (s *Store) FavoriteRepositories(userID int64) ([]string, error) {
	rows, err := s.Query(`SELECT repo_url FROM favorite_repos WHERE user_id = ? ORDER BY repo_url`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "favorite repositories")
	}
	defer rows.Close()

	var repos []string
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, errors.Wrap(err, "favorite repositories")
		}
		repos = append(repos, url)
	}
	return repos, errors.Wrap(rows.Err(), "favorite repositories")
}

func (s *Store) AddFavorite(userID int64, repositoryURL string) error {
	_, err := s.Exec(`INSERT OR IGNORE INTO favorite_repos (user_id, repo_url) VALUES (?, ?)`, userID, repositoryURL)
	return errors.Wrap(err, "add favorite")
}

func (s *Store) RemoveFavorite(userID int64, repositoryURL string) error {
	_, err := s.Exec(`DELETE FROM favorite_repos WHERE user_id = ? AND repo_url = ?`, userID, repositoryURL)
	return errors.Wrap(err, "remove favorite")
}

func (s *Store) IsFavorite(userID int64, repositoryURL string) (bool, error) {
	var n int
	err := s.QueryRow(`SELECT COUNT(*) FROM favorite_repos WHERE user_id = ? AND repo_url = ?`, userID, repositoryURL).Scan(&n)
	return n > 0, errors.Wrap(err, "is favorite")
}

// PruneAgentBindings clears agent bindings that have not been touched
// within the retention window. Agents expire server-side, so a stale
// binding only produces 409 responses on follow-up.
func (s *Store) PruneAgentBindings(olderThan time.Duration) (int64, error) {
	res, err := s.Exec(
		`UPDATE user_state SET last_agent_id = '' WHERE last_agent_id != '' AND updated_at < datetime('now', ?)`,
		fmt.Sprintf("-%d seconds", int64(olderThan.Seconds())))
	if err != nil {
		return 0, errors.Wrap(err, "prune agent bindings")
	}
	return res.RowsAffected()
}
