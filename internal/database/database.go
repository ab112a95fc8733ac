package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite connection.
type DB struct {
	*sqlStore
}

// Ensure DB implements Store interface.
var _ Store = (*DB)(nil)

// sqlitePragmas are applied to every pooled connection. Times are written in
// SQLite's own format so that due-time comparisons stay lexical.
const sqlitePragmas = "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_time_format=sqlite"

// New opens or creates an SQLite database at the given path.
func New(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	dsn := path + "?" + sqlitePragmas
	if strings.Contains(path, "?") {
		dsn = path + "&" + sqlitePragmas
	}
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Enable WAL mode for better concurrency.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set wal mode: %w", err)
	}
	db := &DB{sqlStore: &sqlStore{conn: conn, rebind: questionMarks}}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// DatabaseType returns the database backend name.
func (db *DB) DatabaseType() string {
	return "SQLite"
}

// SupportsHighConcurrency returns false for SQLite.
func (db *DB) SupportsHighConcurrency() bool {
	return false
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		url TEXT NOT NULL UNIQUE,
		site TEXT NOT NULL,
		name TEXT,
		current_price REAL,
		check_every_minutes INTEGER NOT NULL DEFAULT 60,
		next_check_at DATETIME,
		status TEXT NOT NULL DEFAULT 'new' CHECK (status IN ('new', 'ok', 'changed', 'error')),
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE TABLE IF NOT EXISTS price_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		item_id INTEGER NOT NULL REFERENCES items(id),
		price REAL,
		in_stock BOOLEAN,
		seen_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_items_due ON items(status, next_check_at);
	CREATE INDEX IF NOT EXISTS idx_price_history_item_seen ON price_history(item_id, seen_at DESC);
	`
	_, err := db.conn.Exec(schema)
	return err
}
