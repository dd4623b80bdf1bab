package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"beam/internal/migrations"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	_ "github.com/mattn/go-sqlite3"
)

func main() {
	dbPath := flag.String("db", "./beam.db", "Path to the SQLite database file")
	dsn := flag.String("dsn", "", "PostgreSQL DSN (defaults to DATABASE_URL); selects the postgres dialect")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] up|down|status\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	_ = godotenv.Load()

	command := flag.Arg(0)
	if command == "" {
		command = "status"
	}

	if *dsn == "" {
		*dsn = os.Getenv("DATABASE_URL")
	}

	driver, source, dialect := "sqlite3", *dbPath, migrations.DialectSQLite
	if *dsn != "" {
		driver, source, dialect = "pgx", *dsn, migrations.DialectPostgres
	} else if _, err := os.Stat(*dbPath); os.IsNotExist(err) && command != "up" {
		log.Fatalf("Database file not found: %s", *dbPath)
	}

	db, err := sql.Open(driver, source)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := runCommand(ctx, db, dialect, command); err != nil {
		log.Fatalf("Migration %s failed: %v", command, err)
	}
}

func runCommand(ctx context.Context, db *sql.DB, dialect migrations.Dialect, command string) error {
	switch command {
	case "up":
		if err := migrations.Up(ctx, db, dialect); err != nil {
			return err
		}
	case "down":
		if err := migrations.Down(ctx, db, dialect); err != nil {
			return err
		}
	case "status":
	default:
		return fmt.Errorf("unknown command %q (want up, down or status)", command)
	}

	version, err := migrations.Version(ctx, db, dialect)
	if err != nil {
		return err
	}
	fmt.Printf("%s schema version: %d\n", dialect, version)
	return nil
}
