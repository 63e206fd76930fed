// Package cache persists completed acquisitions so repeat requests for
// the same hash are served without re-downloading.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/streamvault/streamvault/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS cached_streams (
	hash       TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	files      JSONB NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS cached_streams_expires_at_idx ON cached_streams (expires_at);
`

// Entry is one cached acquisition, keyed by hash.
type Entry struct {
	Hash      string
	Name      string
	Files     []models.File
	ExpiresAt time.Time
}

// Store is a PostgreSQL-backed cache of completed acquisitions.
type Store struct {
	db *sql.DB
}

// Open connects to PostgreSQL and returns a Store.
func Open(databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the cache schema. Idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate cache schema: %w", err)
	}
	return nil
}

// Find returns the entry for hash if it has not logically expired at
// now. Entries past their expiry are invisible even before the sweeper
// removes them.
func (s *Store) Find(ctx context.Context, hash string, now time.Time) (*Entry, error) {
	e := &Entry{Hash: hash}
	var rawFiles []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT name, files, expires_at FROM cached_streams
		 WHERE hash = $1 AND expires_at > $2`, hash, now).
		Scan(&e.Name, &rawFiles, &e.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find cached stream: %w", err)
	}
	if err := json.Unmarshal(rawFiles, &e.Files); err != nil {
		return nil, fmt.Errorf("decode cached files: %w", err)
	}
	return e, nil
}

// Upsert writes the entry for hash, replacing any previous row. Last
// write wins on concurrent calls for the same hash.
func (s *Store) Upsert(ctx context.Context, hash, name string, files []models.File, expiresAt time.Time) error {
	rawFiles, err := json.Marshal(files)
	if err != nil {
		return fmt.Errorf("encode cached files: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO cached_streams (hash, name, files, expires_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (hash) DO UPDATE SET
			name = EXCLUDED.name,
			files = EXCLUDED.files,
			expires_at = EXCLUDED.expires_at`,
		hash, name, rawFiles, expiresAt)
	if err != nil {
		return fmt.Errorf("upsert cached stream: %w", err)
	}
	return nil
}

// Extend updates only the expiry of an existing row.
func (s *Store) Extend(ctx context.Context, hash string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE cached_streams SET expires_at = $2 WHERE hash = $1`,
		hash, expiresAt)
	if err != nil {
		return fmt.Errorf("extend cached stream: %w", err)
	}
	return nil
}

// Expired returns all entries whose expiry has passed at now.
func (s *Store) Expired(ctx context.Context, now time.Time) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT hash, name, files, expires_at FROM cached_streams
		 WHERE expires_at <= $1`, now)
	if err != nil {
		return nil, fmt.Errorf("query expired streams: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var rawFiles []byte
		if err := rows.Scan(&e.Hash, &e.Name, &rawFiles, &e.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan expired stream: %w", err)
		}
		if err := json.Unmarshal(rawFiles, &e.Files); err != nil {
			return nil, fmt.Errorf("decode cached files: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Delete removes the row for hash.
func (s *Store) Delete(ctx context.Context, hash string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM cached_streams WHERE hash = $1`, hash)
	if err != nil {
		return fmt.Errorf("delete cached stream: %w", err)
	}
	return nil
}
