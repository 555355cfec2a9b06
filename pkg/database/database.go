// Package database opens the process-wide SQL handle. With DATABASE_URL set
// the backend is Postgres; otherwise a SQLite file under the data directory
// (lite mode). All stores use $N placeholders and portable DDL so the same
// code runs against either backend.
package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Open returns the database handle and the driver name ("postgres" or
// "sqlite"). databaseURL takes precedence; dataDir is created when falling
// back to lite mode.
func Open(databaseURL, dataDir string) (*sql.DB, string, error) {
	if databaseURL != "" {
		db, err := sql.Open("postgres", databaseURL)
		if err != nil {
			return nil, "", fmt.Errorf("database: open postgres: %w", err)
		}
		if err := db.Ping(); err != nil {
			return nil, "", fmt.Errorf("database: ping postgres: %w", err)
		}
		return db, "postgres", nil
	}

	if dataDir == "" {
		dataDir = "data"
	}
	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return nil, "", fmt.Errorf("database: create data dir: %w", err)
	}
	dbPath := filepath.Join(dataDir, "secureyeoman.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, "", fmt.Errorf("database: open sqlite: %w", err)
	}
	// modernc's sqlite serializes writes per connection; a single connection
	// avoids SQLITE_BUSY under the executor's concurrent writers.
	db.SetMaxOpenConns(1)
	return db, "sqlite", nil
}

// OpenMemory returns an in-memory SQLite handle for tests.
func OpenMemory() (*sql.DB, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("database: open memory sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}
