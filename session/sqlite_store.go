package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS credentials (
  scope      TEXT PRIMARY KEY,
  token      TEXT NOT NULL,
  updated_at INTEGER NOT NULL
)`

// SQLiteStore persists the token in a local SQLite file, one row per key.
type SQLiteStore struct {
	db    *sql.DB
	scope string
	now   func() time.Time
}

// OpenSQLiteStore opens (or creates) the database at path and prepares the
// credentials table. An empty scope selects [DefaultKey].
func OpenSQLiteStore(ctx context.Context, path, scope string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite store: empty path")
	}
	if scope == "" {
		scope = DefaultKey
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return &SQLiteStore{db: db, scope: scope, now: time.Now}, nil
}

func (s *SQLiteStore) Set(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO credentials (scope, token, updated_at) VALUES (?, ?, ?)
ON CONFLICT(scope) DO UPDATE SET token = excluded.token, updated_at = excluded.updated_at`,
		s.scope, token, s.now().Unix())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context) (string, bool, error) {
	var tok string
	err := s.db.QueryRowContext(ctx, `SELECT token FROM credentials WHERE scope = ?`, s.scope).Scan(&tok)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return tok, true, nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE scope = ?`, s.scope); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }
