package idempotency

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS submit_replays (
    key TEXT PRIMARY KEY,
    status_code INTEGER NOT NULL,
    body BLOB NOT NULL,
    created_at INTEGER NOT NULL,
    expires_at INTEGER NOT NULL
);
`

// SQLiteStore persists replies in a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path is empty")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT status_code, body, created_at, expires_at
FROM submit_replays
WHERE key = ?
`, key)

	var (
		rec                Record
		created, expiresAt int64
	)
	if err := row.Scan(&rec.StatusCode, &rec.Body, &created, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	rec.CreatedAt = time.Unix(0, created)
	rec.ExpiresAt = time.Unix(0, expiresAt)

	if rec.expired(time.Now()) {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM submit_replays WHERE key = ?`, key); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return &rec, nil
}

func (s *SQLiteStore) Save(ctx context.Context, key string, record Record) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO submit_replays (key, status_code, body, created_at, expires_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (key) DO UPDATE
SET status_code = excluded.status_code,
    body = excluded.body,
    created_at = excluded.created_at,
    expires_at = excluded.expires_at
`, key, record.StatusCode, record.Body, record.CreatedAt.UnixNano(), record.ExpiresAt.UnixNano())
	return err
}
