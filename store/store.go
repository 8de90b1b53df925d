// Package store manages the local SQLite database (WAL mode).
package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/pkg/errors"
)

// DB wraps *sql.DB
type DB struct {
	*sql.DB
}

// Open opens (or creates) the SQLite file at path with WAL journal mode.
// ":memory:" gives a private in-memory database.
func Open(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000", path)
	raw, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "store: open %s", path)
	}
	if err := raw.Ping(); err != nil {
		raw.Close()
		return nil, errors.Wrap(err, "store: ping")
	}
	// One writer; also keeps ":memory:" on a single connection.
	raw.SetMaxOpenConns(1)
	return &DB{raw}, nil
}

// Migrate applies the schema. It is idempotent.
func Migrate(db *DB) error {
	for _, stmt := range []string{ddlMirror, ddlUsers} {
		if _, err := db.Exec(stmt); err != nil {
			return errors.Wrap(err, "store: migrate")
		}
	}
	return nil
}

// OpenMigrated opens path and applies the schema
func OpenMigrated(path string) (*DB, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

const ddlMirror = `
CREATE TABLE IF NOT EXISTS mirror (
    key        TEXT    PRIMARY KEY,
    value      TEXT    NOT NULL,
    updated_at INTEGER NOT NULL,          -- Unix milliseconds
    synced     INTEGER NOT NULL DEFAULT 0 -- 0 = pending upload, 1 = replicated
);
CREATE INDEX IF NOT EXISTS idx_mirror_synced ON mirror (synced);
`

const ddlUsers = `
CREATE TABLE IF NOT EXISTS users (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    username      TEXT    NOT NULL UNIQUE,
    password_hash TEXT    NOT NULL,       -- SHA-256 hex
    created_at    INTEGER NOT NULL        -- Unix seconds
);
`
