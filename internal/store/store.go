// Package store is the SQLite-backed document store behind the todo,
// memory and token endpoints. It replaces the remote store service the
// action handlers used to call over HTTP; the same records are still
// exposed on the original routes by [Store.RegisterRoutes].
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrIndexOutOfRange is returned when a positional todo index does not
// refer to an existing todo.
var ErrIndexOutOfRange = errors.New("todo index out of range")

// Store holds todos, memories and auth tokens. All public methods are
// safe for concurrent use (SQLite serializes writes).
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates or opens the store at dbPath. The schema is created
// automatically on first use.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS todos (
		id         TEXT PRIMARY KEY,
		task       TEXT NOT NULL,
		due_date   TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS memories (
		id         TEXT PRIMARY KEY,
		data       TEXT NOT NULL,
		category   TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_memories_category ON memories(category);

	CREATE TABLE IF NOT EXISTS memory_tags (
		memory_id TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
		tag       TEXT NOT NULL,
		PRIMARY KEY (memory_id, tag)
	);
	CREATE INDEX IF NOT EXISTS idx_memory_tags_tag ON memory_tags(tag);

	CREATE TABLE IF NOT EXISTS auth_tokens (
		type       TEXT PRIMARY KEY,
		token      TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// timeFormat is fixed-width so created_at sorts lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

func (s *Store) timestamp() string {
	return s.now().UTC().Format(timeFormat)
}

// Token is a stored credential keyed by type (e.g. "refresh_token").
type Token struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// SetToken upserts the token for tokenType.
func (s *Store) SetToken(ctx context.Context, tokenType, token string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO auth_tokens (type, token, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (type) DO UPDATE
		 SET token = excluded.token, updated_at = excluded.updated_at`,
		tokenType, token, s.timestamp(),
	)
	if err != nil {
		return fmt.Errorf("set token %s: %w", tokenType, err)
	}
	return nil
}

// GetToken returns the token for tokenType, or nil if none is stored.
func (s *Store) GetToken(ctx context.Context, tokenType string) (*Token, error) {
	t := Token{Type: tokenType}
	err := s.db.QueryRowContext(ctx,
		`SELECT token FROM auth_tokens WHERE type = ?`, tokenType,
	).Scan(&t.Token)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get token %s: %w", tokenType, err)
	}
	return &t, nil
}
