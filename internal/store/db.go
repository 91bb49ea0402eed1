// Package store provides local durable storage for the focuscore ledger,
// session state, and pending-write queue.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB wraps the sql.DB with focuscore-specific configuration.
type DB struct {
	*sql.DB
}

// Open opens the focuscore SQLite database with:
// - WAL mode for concurrent reads/writes
// - Foreign key constraints enabled
// - A single writer connection (SQLite doesn't support multiple writers)
func Open(dataDir string) (*DB, error) {
	// Ensure data directory exists
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "focuscore.db")

	// Open database with modernc.org/sqlite (pure Go, no CGO)
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON;"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	wrapped := &DB{db}
	if err := wrapped.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return wrapped, nil
}

// migrate creates the schema if it does not exist yet.
func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS time_logs (
		id         TEXT PRIMARY KEY,
		task_id    TEXT NOT NULL,
		start_time TEXT NOT NULL,
		start_unix INTEGER NOT NULL,
		duration   INTEGER NOT NULL CHECK(duration >= 0),
		type       TEXT NOT NULL,
		note       TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id             TEXT PRIMARY KEY,
		slot           TEXT NOT NULL, -- active, suspended, history
		task_id        TEXT NOT NULL,
		start_time     TEXT NOT NULL,
		end_time       TEXT NOT NULL DEFAULT '',
		duration       INTEGER NOT NULL DEFAULT 0,
		status         TEXT NOT NULL,
		mode           TEXT NOT NULL,
		target_minutes INTEGER NOT NULL,
		segment_start  INTEGER NOT NULL DEFAULT 0,
		accumulated    INTEGER NOT NULL DEFAULT 0,
		remaining      INTEGER NOT NULL DEFAULT 0,
		updated_unix   INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pending_writes (
		id            TEXT PRIMARY KEY,
		collection    TEXT NOT NULL,
		payload       TEXT NOT NULL,
		retry_count   INTEGER NOT NULL DEFAULT 0,
		max_retries   INTEGER NOT NULL DEFAULT 3,
		next_retry_at INTEGER NOT NULL DEFAULT 0,
		last_error    TEXT NOT NULL DEFAULT '',
		created_at    INTEGER NOT NULL,
		updated_at    INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_time_logs_task ON time_logs(task_id);
	CREATE INDEX IF NOT EXISTS idx_time_logs_start ON time_logs(start_unix);
	CREATE INDEX IF NOT EXISTS idx_sessions_slot ON sessions(slot);
	CREATE INDEX IF NOT EXISTS idx_sessions_task ON sessions(slot, task_id);
	`
	_, err := db.Exec(schema)
	return err
}

// Usage returns the approximate size of live data in bytes, derived
// from sqlite page accounting. Freelist pages are excluded: sqlite
// never shrinks the file on DELETE, so counting freed pages would make
// quota cleanup look ineffective no matter how much it removed.
func (db *DB) Usage() (int64, error) {
	var pageCount, freeCount, pageSize int64
	if err := db.QueryRow("PRAGMA page_count").Scan(&pageCount); err != nil {
		return 0, err
	}
	if err := db.QueryRow("PRAGMA freelist_count").Scan(&freeCount); err != nil {
		return 0, err
	}
	if err := db.QueryRow("PRAGMA page_size").Scan(&pageSize); err != nil {
		return 0, err
	}
	return (pageCount - freeCount) * pageSize, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.DB.Close()
}
