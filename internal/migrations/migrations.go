// Package migrations embeds the key-value schema for the SQL backends and
// applies it with goose.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sync"

	"github.com/pressly/goose/v3"
)

// Dialect names a supported SQL backend
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "pgx"
)

//go:embed sqlite/*.sql postgres/*.sql
var embedded embed.FS

// goose keeps its base FS and dialect in package globals
var gooseMu sync.Mutex

// FS returns the migration files for a dialect
func FS(dialect Dialect) (fs.FS, error) {
	switch dialect {
	case DialectSQLite:
		return fs.Sub(embedded, "sqlite")
	case DialectPostgres:
		return fs.Sub(embedded, "postgres")
	default:
		return nil, fmt.Errorf("unsupported migration dialect %q", dialect)
	}
}

// Up applies every pending migration for the dialect
func Up(ctx context.Context, db *sql.DB, dialect Dialect) error {
	return run(ctx, db, dialect, func(ctx context.Context) error {
		return goose.UpContext(ctx, db, ".")
	})
}

// Down rolls back the most recent migration
func Down(ctx context.Context, db *sql.DB, dialect Dialect) error {
	return run(ctx, db, dialect, func(ctx context.Context) error {
		return goose.DownContext(ctx, db, ".")
	})
}

// Version reports the current schema version
func Version(ctx context.Context, db *sql.DB, dialect Dialect) (int64, error) {
	var version int64
	err := run(ctx, db, dialect, func(ctx context.Context) error {
		v, err := goose.GetDBVersionContext(ctx, db)
		version = v
		return err
	})
	return version, err
}

func run(ctx context.Context, db *sql.DB, dialect Dialect, fn func(context.Context) error) error {
	fsys, err := FS(dialect)
	if err != nil {
		return err
	}

	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(fsys)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect(string(dialect)); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}
	goose.SetLogger(goose.NopLogger())

	if err := fn(ctx); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}
