// Package db provides database connection management for the local store.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// FileName is the database file created inside the data directory.
const FileName = "journalsync.db"

// DB wraps the sql.DB with journalsync-specific configuration.
type DB struct {
	*sql.DB
	path string
}

// Open opens the SQLite database inside dataDir, creating the directory if needed.
func Open(dataDir string) (*DB, error) {
	// Ensure data directory exists
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	return OpenPath(filepath.Join(dataDir, FileName))
}

// OpenPath opens a SQLite database at path. ":memory:" opens a private
// in-memory database that lives as long as the returned DB.
// The database is opened with:
// - WAL mode for concurrent reads/writes
// - a 5s busy timeout
// - foreign key constraints enabled
func OpenPath(path string) (*DB, error) {
	// Open database with modernc.org/sqlite (pure Go, no CGO)
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite doesn't support multiple writers; one connection also keeps
	// ":memory:" databases alive and shared.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	return &DB{DB: conn, path: path}, nil
}

// OpenAndMigrate opens the database in dataDir and applies all embedded migrations.
func OpenAndMigrate(dataDir string) (*DB, error) {
	database, err := Open(dataDir)
	if err != nil {
		return nil, err
	}
	if err := Migrate(database.DB); err != nil {
		_ = database.Close()
		return nil, err
	}
	return database, nil
}

// OpenMemory opens a migrated in-memory database.
func OpenMemory() (*DB, error) {
	database, err := OpenPath(":memory:")
	if err != nil {
		return nil, err
	}
	if err := Migrate(database.DB); err != nil {
		_ = database.Close()
		return nil, err
	}
	return database, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.DB.Close()
}
