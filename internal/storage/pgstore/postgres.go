// Package pgstore is the PostgreSQL backend of the key-value store, using the
// pgx database/sql driver.
package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"beam/internal/migrations"
	"beam/internal/storage"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Store implements storage.KV on a kv table
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ storage.KV = (*Store)(nil)

// Open connects with the given DSN and applies migrations
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	if err := migrations.Up(ctx, db, migrations.DialectPostgres); err != nil {
		_ = db.Close()
		return nil, err
	}
	return New(db), nil
}

// New wraps an already migrated database handle
func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kv WHERE key = $1 AND (expires_at IS NULL OR expires_at > $2)`,
		key, s.now(),
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres get %s: %w", key, err)
	}
	return value, nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	now := s.now()
	var expiresAt sql.NullTime
	if ttl > 0 {
		expiresAt = sql.NullTime{Time: now.Add(ttl), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, expires_at, updated_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			expires_at = EXCLUDED.expires_at,
			updated_at = EXCLUDED.updated_at`,
		key, value, expiresAt, now,
	)
	if err != nil {
		return fmt.Errorf("postgres put %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = $1`, key); err != nil {
		return fmt.Errorf("postgres delete %s: %w", key, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key FROM kv
		WHERE substr(key, 1, length($1)) = $1
		  AND (expires_at IS NULL OR expires_at > $2)
		ORDER BY key COLLATE "C"`,
		prefix, s.now(),
	)
	if err != nil {
		return nil, fmt.Errorf("postgres list %q: %w", prefix, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// DeleteExpired removes rows whose expiry has passed
func (s *Store) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM kv WHERE expires_at IS NOT NULL AND expires_at <= $1`, s.now())
	if err != nil {
		return 0, fmt.Errorf("postgres sweep: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
