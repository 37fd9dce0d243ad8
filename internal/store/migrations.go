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
		Description: "Apps and focus records",
		Up:          migrationV1Up,
		Down:        migrationV1Down,
	},
	{
		Version:     2,
		Description: "Export runs for incremental exports",
		Up:          migrationV2Up,
		Down:        migrationV2Down,
	},
	{
		Version:     3,
		Description: "Daily totals view",
		Up:          migrationV3Up,
		Down:        migrationV3Down,
	},
}

const migrationV1Up = `
CREATE TABLE IF NOT EXISTS apps (
    app_id      INTEGER PRIMARY KEY,
    path        TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS focus_records (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    app_id      INTEGER NOT NULL REFERENCES apps(app_id),
    focus_at    INTEGER NOT NULL,
    blur_at     INTEGER NOT NULL,
    duration_ms INTEGER GENERATED ALWAYS AS (blur_at - focus_at) VIRTUAL,
    UNIQUE (app_id, focus_at)
);

CREATE INDEX IF NOT EXISTS idx_focus_records_focus_at ON focus_records(focus_at);
`

const migrationV1Down = `
DROP INDEX IF EXISTS idx_focus_records_focus_at;
DROP TABLE IF EXISTS focus_records;
DROP TABLE IF EXISTS apps;
`

const migrationV2Up = `
CREATE TABLE IF NOT EXISTS export_runs (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    instance_id TEXT NOT NULL,
    exported_at INTEGER NOT NULL,
    cursor      INTEGER NOT NULL,
    apps        INTEGER NOT NULL,
    inserted    INTEGER NOT NULL,
    skipped     INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_export_runs_instance ON export_runs(instance_id, id);
`

const migrationV2Down = `
DROP INDEX IF EXISTS idx_export_runs_instance;
DROP TABLE IF EXISTS export_runs;
`

const migrationV3Up = `
CREATE VIEW IF NOT EXISTS daily_totals AS
SELECT focus_at / 86400000 AS day, SUM(blur_at - focus_at) AS millis
FROM focus_records
GROUP BY day;
`

const migrationV3Down = `
DROP VIEW IF EXISTS daily_totals;
`

const createMigrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version     INTEGER PRIMARY KEY,
    applied_at  INTEGER NOT NULL,
    description TEXT
)`

// schemaObjects are the tables and views the latest migration leaves behind.
var schemaObjects = map[string]string{
	"apps":              "table",
	"focus_records":     "table",
	"export_runs":       "table",
	"schema_migrations": "table",
	"daily_totals":      "view",
}

func schemaVersion(db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

// inTx runs fn in a transaction, committing only when fn succeeds.
func inTx(db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// MigrateDB brings the schema up to the latest version. Each migration runs
// in its own transaction.
func MigrateDB(db *sql.DB) error {
	if _, err := db.Exec(createMigrationsTable); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	current, err := schemaVersion(db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		err := inTx(db, func(tx *sql.Tx) error {
			if _, err := tx.Exec(m.Up); err != nil {
				return err
			}
			_, err := tx.Exec(`INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, ?, ?)`,
				m.Version, time.Now().UnixNano(), m.Description)
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}
	}
	return nil
}

// RollbackMigration reverts the most recently applied migration.
func RollbackMigration(db *sql.DB) error {
	current, err := schemaVersion(db)
	if err != nil {
		return err
	}
	if current == 0 {
		return fmt.Errorf("no migration to roll back")
	}
	if current > len(migrations) {
		return fmt.Errorf("schema version %d is newer than this binary", current)
	}

	m := migrations[current-1]
	err = inTx(db, func(tx *sql.Tx) error {
		if _, err := tx.Exec(m.Down); err != nil {
			return err
		}
		_, err := tx.Exec(`DELETE FROM schema_migrations WHERE version = ?`, m.Version)
		return err
	})
	if err != nil {
		return fmt.Errorf("roll back migration %d: %w", m.Version, err)
	}
	return nil
}

// MigrationStatus reports applied and pending migrations.
type MigrationStatus struct {
	CurrentVersion int
	LatestVersion  int
	Pending        []Migration
	Applied        []AppliedMigration
}

// AppliedMigration is one row of schema_migrations.
type AppliedMigration struct {
	Version     int
	AppliedAt   time.Time
	Description string
}

// GetMigrationStatus lists applied and pending migrations.
func GetMigrationStatus(db *sql.DB) (*MigrationStatus, error) {
	status := &MigrationStatus{LatestVersion: len(migrations)}

	rows, err := db.Query(`SELECT version, applied_at, description FROM schema_migrations ORDER BY version`)
	if err != nil {
		// never migrated
		status.Pending = migrations
		return status, nil
	}
	defer rows.Close()

	for rows.Next() {
		var (
			am        AppliedMigration
			appliedAt int64
		)
		if err := rows.Scan(&am.Version, &appliedAt, &am.Description); err != nil {
			return nil, fmt.Errorf("scan schema_migrations: %w", err)
		}
		am.AppliedAt = time.Unix(0, appliedAt)
		status.Applied = append(status.Applied, am)
		status.CurrentVersion = max(status.CurrentVersion, am.Version)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, m := range migrations {
		if m.Version > status.CurrentVersion {
			status.Pending = append(status.Pending, m)
		}
	}
	return status, nil
}

// ValidateSchema checks that every table and view of the latest schema
// exists.
func ValidateSchema(db *sql.DB) error {
	for name, kind := range schemaObjects {
		var n int
		err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ?`, kind, name).Scan(&n)
		if err != nil {
			return fmt.Errorf("check %s %s: %w", kind, name, err)
		}
		if n == 0 {
			return fmt.Errorf("missing %s %s", kind, name)
		}
	}
	return nil
}
