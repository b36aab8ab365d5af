// Package store implements the persistence engine for keyhaven: the
// credential, group, note and settings stores over one shared SQLite
// handle, plus the secondary search index kept in lockstep with every
// credential write.
//
// The engine performs no internal parallelism. Every operation is a
// self-contained synchronous unit of work; callers invoking stores from
// concurrent contexts must serialize externally, since the embedded
// engine enforces single-writer semantics.
package store

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const (
	// DBFileName is the vault database file name.
	DBFileName = "vault.db"

	// FileMode restricts the database to the owning user.
	FileMode = 0600

	// DirMode restricts the vault directory to the owning user.
	DirMode = 0700
)

// DB is the shared database handle passed into every store constructor.
type DB struct {
	sql  *sql.DB
	path string
}

// Open opens (creating if needed) the vault database under dir and
// prepares the schema. The handle is limited to a single connection.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, DirMode); err != nil {
		return nil, fmt.Errorf("store: failed to create vault directory: %w", err)
	}

	dbPath := filepath.Join(dir, DBFileName)
	dsn := dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	handle, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: failed to open database: %w", err)
	}

	// Single-connection mode: the engine is single-writer and the whole
	// application shares this one handle.
	handle.SetMaxOpenConns(1)
	handle.SetMaxIdleConns(1)

	db := &DB{sql: handle, path: dbPath}
	if err := db.createTables(); err != nil {
		handle.Close()
		return nil, fmt.Errorf("store: failed to create tables: %w", err)
	}

	// Schema evolution is best-effort at startup: each step runs in its
	// own transaction with rollback, and a failed step is logged rather
	// than surfaced so an old binary never bricks a newer vault file.
	if err := migrateSchema(handle); err != nil {
		log.Printf("store: schema migration skipped: %v", err)
	}

	if err := os.Chmod(dbPath, FileMode); err != nil {
		handle.Close()
		return nil, fmt.Errorf("store: failed to set database permissions: %w", err)
	}

	return db, nil
}

// SQL exposes the raw handle for collaborators that query the persisted
// shape directly (backup replace-clears, the integrity auditor).
func (d *DB) SQL() *sql.DB {
	return d.sql
}

// Path returns the database file path.
func (d *DB) Path() string {
	return d.path
}

// Close closes the underlying handle.
func (d *DB) Close() error {
	return d.sql.Close()
}

func (d *DB) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS credential_groups (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			parent_id INTEGER REFERENCES credential_groups(id) ON DELETE SET NULL,
			color TEXT NOT NULL DEFAULT 'blue',
			sort_order INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_credential_groups_parent ON credential_groups(parent_id)`,

		`CREATE TABLE IF NOT EXISTS note_groups (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			parent_id INTEGER REFERENCES note_groups(id) ON DELETE SET NULL,
			color TEXT NOT NULL DEFAULT 'blue',
			sort_order INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_note_groups_parent ON note_groups(parent_id)`,

		`CREATE TABLE IF NOT EXISTS credentials (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			title TEXT NOT NULL,
			username TEXT NOT NULL,
			password TEXT NOT NULL DEFAULT '',
			multi_account_data TEXT NOT NULL DEFAULT '',
			url TEXT NOT NULL DEFAULT '',
			notes TEXT NOT NULL DEFAULT '',
			group_id INTEGER REFERENCES credential_groups(id) ON DELETE SET NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_credentials_group ON credentials(group_id)`,

		`CREATE TABLE IF NOT EXISTS notes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			title TEXT NOT NULL,
			content TEXT NOT NULL,
			group_id INTEGER REFERENCES note_groups(id) ON DELETE SET NULL,
			pinned INTEGER NOT NULL DEFAULT 0,
			archived INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_notes_group ON notes(group_id)`,

		// History rows intentionally carry no schema-level foreign key:
		// they outlive their credential until the auditor's orphan
		// cleanup, and must never block a credential delete.
		`CREATE TABLE IF NOT EXISTS password_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			credential_id INTEGER NOT NULL,
			old_password TEXT NOT NULL DEFAULT '',
			new_password TEXT NOT NULL,
			changed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			reason TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_password_history_credential ON password_history(credential_id)`,

		// Setting key uniqueness is enforced by the store, not the
		// schema, so the integrity auditor can observe and repair
		// duplicate keys in corrupted vaults.
		`CREATE TABLE IF NOT EXISTS settings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			key TEXT NOT NULL,
			value TEXT NOT NULL DEFAULT '',
			type TEXT NOT NULL DEFAULT 'string',
			category TEXT NOT NULL DEFAULT 'general',
			description TEXT NOT NULL DEFAULT '',
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_settings_key ON settings(key)`,

		`CREATE VIRTUAL TABLE IF NOT EXISTS credentials_fts USING fts5(
			title, username, url, notes, credential_id UNINDEXED
		)`,
	}

	for _, stmt := range stmts {
		if _, err := d.sql.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
