// Package database is the SQLite backend of the key-value store.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"beam/internal/migrations"
	"beam/internal/security"
	"beam/internal/storage"

	_ "github.com/mattn/go-sqlite3"
)

// Database implements storage.KV on a single SQLite table
type Database struct {
	db        *sql.DB
	encryptor *Encryptor
	now       func() time.Time
}

var _ storage.KV = (*Database)(nil)

// New opens (creating if needed) the SQLite file at dbPath and applies migrations.
// A non-empty encryptionSecret turns on at-rest encryption of values.
func New(ctx context.Context, dbPath, encryptionSecret string) (*Database, error) {
	if err := security.ValidateFilePath(dbPath); err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}

	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create database file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close database file: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	fail := func(stage string, err error) (*Database, error) {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to %s: %w (close error: %v)", stage, err, closeErr)
		}
		return nil, fmt.Errorf("failed to %s: %w", stage, err)
	}

	if err := db.PingContext(ctx); err != nil {
		return fail("ping database", err)
	}

	if err := migrations.Up(ctx, db, migrations.DialectSQLite); err != nil {
		return fail("initialize schema", err)
	}

	encryptor, err := NewEncryptor(encryptionSecret)
	if err != nil {
		return fail("initialize encryptor", err)
	}

	return &Database{db: db, encryptor: encryptor, now: time.Now}, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

// Ping checks that the database file is still reachable
func (d *Database) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func (d *Database) Get(ctx context.Context, key string) ([]byte, error) {
	var (
		value     []byte
		expiresAt sql.NullInt64
	)
	err := d.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM kv WHERE key = ?`, key,
	).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}

	if expiresAt.Valid && d.now().UnixMilli() >= expiresAt.Int64 {
		return nil, storage.ErrNotFound
	}

	plaintext, err := d.encryptor.Open(key, value)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt %s: %w", key, err)
	}
	return plaintext, nil
}

func (d *Database) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	sealed, err := d.encryptor.Seal(key, value)
	if err != nil {
		return fmt.Errorf("failed to encrypt %s: %w", key, err)
	}

	now := d.now()
	var expiresAt sql.NullInt64
	if ttl > 0 {
		expiresAt = sql.NullInt64{Int64: now.Add(ttl).UnixMilli(), Valid: true}
	}

	return withRetry(ctx, "kv put", func() error {
		_, err := d.db.ExecContext(ctx, `
			INSERT INTO kv (key, value, expires_at, updated_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET
				value = excluded.value,
				expires_at = excluded.expires_at,
				updated_at = excluded.updated_at`,
			key, sealed, expiresAt, now.UnixMilli(),
		)
		return err
	})
}

func (d *Database) Delete(ctx context.Context, key string) error {
	return withRetry(ctx, "kv delete", func() error {
		_, err := d.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
		return err
	})
}

func (d *Database) List(ctx context.Context, prefix string) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT key FROM kv
		WHERE substr(key, 1, length(?)) = ?
		  AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY key`,
		prefix, prefix, d.now().UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list %q: %w", prefix, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// DeleteExpired removes rows whose expiry has passed and returns how many were removed
func (d *Database) DeleteExpired(ctx context.Context) (int64, error) {
	var affected int64
	err := withRetry(ctx, "kv sweep", func() error {
		res, err := d.db.ExecContext(ctx,
			`DELETE FROM kv WHERE expires_at IS NOT NULL AND expires_at <= ?`, d.now().UnixMilli())
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	return affected, err
}
