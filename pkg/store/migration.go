package store

import (
	"database/sql"
	"fmt"
)

// Schema version constants
const (
	// SchemaVersion1 is the original schema: credentials, groups,
	// notes, settings, history, search index.
	SchemaVersion1 = 1
	// SchemaVersion2 adds the multi-account blob to credentials.
	SchemaVersion2 = 2
	// SchemaVersion3 adds the optional reason to password history.
	SchemaVersion3 = 3
	// SchemaVersion4 adds pinned/archived flags to notes.
	SchemaVersion4 = 4
	// CurrentSchemaVersion is the current schema version.
	CurrentSchemaVersion = SchemaVersion4
)

// getSchemaVersion returns the schema version recorded in the database.
// Returns 1 if no version is stored (legacy database).
func getSchemaVersion(db *sql.DB) (int, error) {
	var tableName string
	err := db.QueryRow(`
		SELECT name FROM sqlite_master
		WHERE type='table' AND name='schema_version'
	`).Scan(&tableName)

	if err == sql.ErrNoRows {
		return SchemaVersion1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("store: failed to check schema_version table: %w", err)
	}

	var version int
	err = db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if err == sql.ErrNoRows {
		return SchemaVersion1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("store: failed to get schema version: %w", err)
	}

	return version, nil
}

// migrateSchema migrates the database schema to the current version.
// Each step is idempotent and runs in its own transaction.
func migrateSchema(db *sql.DB) error {
	version, err := getSchemaVersion(db)
	if err != nil {
		return err
	}

	if version < SchemaVersion2 {
		if err := migrateToV2(db); err != nil {
			return fmt.Errorf("store: migration to v2 failed: %w", err)
		}
	}

	if version < SchemaVersion3 {
		if err := migrateToV3(db); err != nil {
			return fmt.Errorf("store: migration to v3 failed: %w", err)
		}
	}

	if version < SchemaVersion4 {
		if err := migrateToV4(db); err != nil {
			return fmt.Errorf("store: migration to v4 failed: %w", err)
		}
	}

	return nil
}

// migrateToV2 adds the multi_account_data column to credentials.
// Vaults created before multi-account support lack the column; data is
// not rewritten, the empty default means "single password only".
func migrateToV2(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	columns, err := getTableColumns(tx, "credentials")
	if err != nil {
		return fmt.Errorf("failed to get table columns: %w", err)
	}

	if !columns["multi_account_data"] {
		_, err = tx.Exec("ALTER TABLE credentials ADD COLUMN multi_account_data TEXT NOT NULL DEFAULT ''")
		if err != nil {
			return fmt.Errorf("failed to add multi_account_data column: %w", err)
		}
	}

	if err := setSchemaVersion(tx, SchemaVersion2); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}
	return nil
}

// migrateToV3 adds the reason column to password_history.
func migrateToV3(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	columns, err := getTableColumns(tx, "password_history")
	if err != nil {
		return fmt.Errorf("failed to get table columns: %w", err)
	}

	if !columns["reason"] {
		_, err = tx.Exec("ALTER TABLE password_history ADD COLUMN reason TEXT NOT NULL DEFAULT ''")
		if err != nil {
			return fmt.Errorf("failed to add reason column: %w", err)
		}
	}

	if err := setSchemaVersion(tx, SchemaVersion3); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}
	return nil
}

// migrateToV4 adds pinned/archived flags to notes.
func migrateToV4(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	columns, err := getTableColumns(tx, "notes")
	if err != nil {
		return fmt.Errorf("failed to get table columns: %w", err)
	}

	if !columns["pinned"] {
		_, err = tx.Exec("ALTER TABLE notes ADD COLUMN pinned INTEGER NOT NULL DEFAULT 0")
		if err != nil {
			return fmt.Errorf("failed to add pinned column: %w", err)
		}
	}
	if !columns["archived"] {
		_, err = tx.Exec("ALTER TABLE notes ADD COLUMN archived INTEGER NOT NULL DEFAULT 0")
		if err != nil {
			return fmt.Errorf("failed to add archived column: %w", err)
		}
	}

	if err := setSchemaVersion(tx, SchemaVersion4); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}
	return nil
}

// setSchemaVersion records a schema version inside the given transaction.
func setSchemaVersion(tx *sql.Tx, version int) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			migrated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	_, err = tx.Exec("INSERT OR REPLACE INTO schema_version (version) VALUES (?)", version)
	if err != nil {
		return fmt.Errorf("failed to set schema version: %w", err)
	}
	return nil
}

// getTableColumns returns a map of column names for a table.
func getTableColumns(tx *sql.Tx, tableName string) (map[string]bool, error) {
	rows, err := tx.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns := make(map[string]bool)
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return nil, err
		}
		columns[name] = true
	}

	return columns, rows.Err()
}
