package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Migration represents a database schema migration.
type Migration struct {
	Version     int
	Description string
	Up          string
	Down        string
}

// migrations contains all database migrations in order.
var migrations = []Migration{
	{
		Version:     1,
		Description: "Preferences and scan history",
		Up:          migrationV1Up,
		Down:        migrationV1Down,
	},
	{
		Version:     2,
		Description: "Verification history",
		Up:          migrationV2Up,
		Down:        migrationV2Down,
	},
}

const migrationV1Up = `
CREATE TABLE IF NOT EXISTS preferences (
    key         TEXT PRIMARY KEY,
    value       TEXT NOT NULL,
    updated_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS scans (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    created_at       INTEGER NOT NULL,
    source           TEXT NOT NULL,
    text_hash        TEXT NOT NULL,
    verdict          TEXT NOT NULL,
    reason           TEXT NOT NULL,
    zero_width_count INTEGER NOT NULL,
    valid_tags       INTEGER NOT NULL,
    invalid_tags     INTEGER NOT NULL,
    metadata         TEXT
);

CREATE INDEX IF NOT EXISTS idx_scans_created ON scans(created_at);
CREATE INDEX IF NOT EXISTS idx_scans_hash ON scans(text_hash);
`

const migrationV1Down = `
DROP INDEX IF EXISTS idx_scans_hash;
DROP INDEX IF EXISTS idx_scans_created;
DROP TABLE IF EXISTS scans;
DROP TABLE IF EXISTS preferences;
`

const migrationV2Up = `
CREATE TABLE IF NOT EXISTS verifications (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    created_at    INTEGER NOT NULL,
    text_hash     TEXT NOT NULL,
    status        TEXT NOT NULL,
    company       TEXT,
    block_num     INTEGER,
    tx_hash       TEXT,
    reason        TEXT,
    request_id    TEXT
);

CREATE INDEX IF NOT EXISTS idx_verifications_hash ON verifications(text_hash, created_at);
`

const migrationV2Down = `
DROP INDEX IF EXISTS idx_verifications_hash;
DROP TABLE IF EXISTS verifications;
`

// MigrateDB applies all pending migrations to the database.
func MigrateDB(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version     INTEGER PRIMARY KEY,
			applied_at  INTEGER NOT NULL,
			description TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	var currentVersion int
	err = db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction for migration %d: %w", m.Version, err)
		}
		if _, err := tx.Exec(m.Up); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Description, err)
		}
		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, ?, ?)",
			m.Version, time.Now().UnixNano(), m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// RollbackMigration rolls back the last applied migration.
func RollbackMigration(db *sql.DB) error {
	var currentVersion int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("get current version: %w", err)
	}
	if currentVersion == 0 {
		return fmt.Errorf("no migrations to rollback")
	}

	var migration *Migration
	for i := range migrations {
		if migrations[i].Version == currentVersion {
			migration = &migrations[i]
			break
		}
	}
	if migration == nil {
		return fmt.Errorf("migration %d not found", currentVersion)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if _, err := tx.Exec(migration.Down); err != nil {
		tx.Rollback()
		return fmt.Errorf("rollback migration %d: %w", currentVersion, err)
	}
	if _, err := tx.Exec("DELETE FROM schema_migrations WHERE version = ?", currentVersion); err != nil {
		tx.Rollback()
		return fmt.Errorf("remove migration record: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rollback: %w", err)
	}
	return nil
}

// MigrationStatus reports applied and pending migrations.
type MigrationStatus struct {
	CurrentVersion int
	LatestVersion  int
	Pending        []Migration
}

// GetMigrationStatus returns the current migration status.
func GetMigrationStatus(db *sql.DB) (*MigrationStatus, error) {
	status := &MigrationStatus{LatestVersion: len(migrations)}

	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&status.CurrentVersion)
	if err != nil {
		// Table might not exist yet
		status.CurrentVersion = 0
	}
	for _, m := range migrations {
		if m.Version > status.CurrentVersion {
			status.Pending = append(status.Pending, m)
		}
	}
	return status, nil
}

// ValidateSchema checks that all expected tables exist.
func ValidateSchema(db *sql.DB) error {
	requiredTables := []string{
		"preferences",
		"scans",
		"verifications",
		"schema_migrations",
	}

	for _, table := range requiredTables {
		var count int
		err := db.QueryRow(
			"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&count)
		if err != nil {
			return fmt.Errorf("check table %s: %w", table, err)
		}
		if count == 0 {
			return fmt.Errorf("missing required table: %s", table)
		}
	}
	return nil
}
