package database

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite connection.
type DB struct {
	sqlStore
}

// Ensure DB implements Store interface.
var _ Store = (*DB)(nil)

// New opens or creates an SQLite database at the given path.
// ":memory:" gives a private in-memory database.
func New(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// A single connection serializes writers and keeps :memory: databases
	// shared across callers.
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set wal mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON;"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	db := &DB{sqlStore{conn: conn}}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// DatabaseType returns the database backend name.
func (db *DB) DatabaseType() string {
	return "SQLite"
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS categories (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		parent_id INTEGER REFERENCES categories(id),
		sort_order INTEGER NOT NULL DEFAULT 0
	);
	CREATE TABLE IF NOT EXISTS subscriptions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		link TEXT NOT NULL,
		site_link TEXT NOT NULL DEFAULT '',
		language TEXT NOT NULL DEFAULT '',
		logo TEXT NOT NULL DEFAULT '',
		category_id INTEGER REFERENCES categories(id),
		sort_order INTEGER NOT NULL DEFAULT 0,
		pub_date INTEGER,
		last_build_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_subscriptions_link ON subscriptions(link);
	CREATE INDEX IF NOT EXISTS idx_subscriptions_last_build ON subscriptions(last_build_at);
	CREATE TABLE IF NOT EXISTS build_configs (
		subscription_id INTEGER PRIMARY KEY REFERENCES subscriptions(id) ON DELETE CASCADE,
		initial_frequency REAL NOT NULL,
		fitted_frequency REAL,
		adaptive INTEGER NOT NULL DEFAULT 0,
		source_type TEXT NOT NULL DEFAULT 'Unknown',
		last_build_at INTEGER
	);
	CREATE TABLE IF NOT EXISTS build_records (
		identifier TEXT PRIMARY KEY,
		subscription_id INTEGER NOT NULL REFERENCES subscriptions(id) ON DELETE CASCADE,
		status INTEGER NOT NULL,
		remark TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_build_records_sub_created ON build_records(subscription_id, created_at);
	CREATE TABLE IF NOT EXISTS articles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		subscription_id INTEGER NOT NULL REFERENCES subscriptions(id) ON DELETE CASCADE,
		title TEXT NOT NULL DEFAULT '',
		link TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		plain_text TEXT NOT NULL DEFAULT '',
		images TEXT NOT NULL DEFAULT '[]',
		authors TEXT NOT NULL DEFAULT '[]',
		published_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		UNIQUE(subscription_id, link)
	);
	CREATE INDEX IF NOT EXISTS idx_articles_published ON articles(published_at);
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := db.conn.Exec(schema)
	return err
}
