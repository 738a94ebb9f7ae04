// Package store keeps a history of finished sessions in SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// Session is one finished match as seen by the server.
type Session struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	Player1   string    `json:"player1"`
	Player2   string    `json:"player2"`
	// Health1 and Health2 are the last health values relayed to each slot.
	Health1 int `json:"health1"`
	Health2 int `json:"health2"`
	// FirstOut is the slot whose connection closed first, 0 if unknown.
	FirstOut int   `json:"first_out"`
	Ticks    int64 `json:"ticks"`
}

// Duration is how long the session lasted.
func (s Session) Duration() time.Duration {
	return s.EndedAt.Sub(s.StartedAt)
}

// Store wraps a SQLite database holding session history.
type Store struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		log.Warn().Err(err).Msg("failed to enable WAL mode")
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	log.Info().Str("component", "store").Str("path", path).Msg("database opened")
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			started_at INTEGER NOT NULL,
			ended_at INTEGER NOT NULL,
			player1 TEXT NOT NULL DEFAULT '',
			player2 TEXT NOT NULL DEFAULT '',
			health1 INTEGER NOT NULL DEFAULT 0,
			health2 INTEGER NOT NULL DEFAULT 0,
			first_out INTEGER NOT NULL DEFAULT 0,
			ticks INTEGER NOT NULL DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_ended_at ON sessions(ended_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts a finished session. Recording the same id twice replaces
// the earlier row.
func (s *Store) Record(ctx context.Context, sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO sessions
			(id, started_at, ended_at, player1, player2, health1, health2, first_out, ticks)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID,
		sess.StartedAt.UnixMilli(),
		sess.EndedAt.UnixMilli(),
		sess.Player1,
		sess.Player2,
		sess.Health1,
		sess.Health2,
		sess.FirstOut,
		sess.Ticks,
	)
	if err != nil {
		return fmt.Errorf("failed to record session %s: %w", sess.ID, err)
	}
	return nil
}

// Recent returns up to limit sessions, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, ended_at, player1, player2, health1, health2, first_out, ticks
		FROM sessions
		ORDER BY ended_at DESC, id
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var sess Session
		var started, ended int64
		if err := rows.Scan(&sess.ID, &started, &ended, &sess.Player1, &sess.Player2,
			&sess.Health1, &sess.Health2, &sess.FirstOut, &sess.Ticks); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sess.StartedAt = time.UnixMilli(started)
		sess.EndedAt = time.UnixMilli(ended)
		out = append(out, sess)
	}
	return out, rows.Err()
}

// Count returns the number of recorded sessions.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sessions").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return n, nil
}
