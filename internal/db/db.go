// Package db provides the embedded SQLite store behind pomosync.
//
// The same store backs two roles:
//   - the device's durable local state: entity collections plus a small
//     key-value table holding the pending-operations list, the tombstone map
//     and device metadata
//   - the reference row-store server (internal/rowstore), which keeps the
//     shared collections for every device
//
// Records are stored as JSON documents keyed by id, with a few extracted
// columns used for ordering and day filtering. The JSON document is the
// source of truth, so fields added to the records never need a migration.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Table names for the four entity collections.
const (
	TableTasks     = "tasks"
	TableCompleted = "completed_tasks"
	TableSessions  = "work_sessions"
	TableArchived  = "archived_tasks"
)

// sortLayout is a fixed-width UTC layout so timestamps order lexically.
const sortLayout = "2006-01-02T15:04:05.000000000Z"

// DB wraps the SQLite connection.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates a new database connection at the specified path.
//
// The database is opened with WAL journaling, a busy timeout and immediate
// write transactions so the daemon and one-shot CLI commands can share the
// file. If the database doesn't exist it is created; call InitSchema before
// use.
//
// The caller MUST call Close() when done.
func Open(path string) (*DB, error) {
	path = strings.TrimPrefix(path, "file:")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_txlock=immediate&_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)", path)
	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	return &DB{conn: conn, path: path}, nil
}

// Path returns the database file location.
func (db *DB) Path() string {
	return db.path
}

// RawDB returns the underlying sql.DB connection.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Close closes the database connection.
// Performs a WAL checkpoint to ensure all changes are persisted.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the database schema if it doesn't exist.
// This is idempotent - safe to call multiple times.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the database schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	var b strings.Builder
	b.WriteString(`
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		updated_at TEXT NOT NULL
	);
	`)

	// Every collection has the same shape: id, ordering timestamp, UTC day, document.
	for _, table := range []string{TableTasks, TableCompleted, TableSessions, TableArchived} {
		fmt.Fprintf(&b, `
	CREATE TABLE IF NOT EXISTS %[1]s (
		id TEXT PRIMARY KEY,
		sort_at TEXT NOT NULL,
		day TEXT NOT NULL DEFAULT '',
		data TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_%[1]s_day ON %[1]s(day);
	CREATE INDEX IF NOT EXISTS idx_%[1]s_sort ON %[1]s(sort_at);
	`, table)
	}

	if _, err := db.conn.ExecContext(ctx, b.String()); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func formatSortKey(t time.Time) string {
	return t.UTC().Format(sortLayout)
}
