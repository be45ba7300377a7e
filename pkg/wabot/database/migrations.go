package database

import (
	"context"
	"database/sql"
	"fmt"
)

// migrations holds the schema steps in order; version N is migrations[N-1].
// Statements are portable between SQLite and PostgreSQL.
var migrations = [][]string{
	{
		`CREATE TABLE IF NOT EXISTS wabot_info (
			info       TEXT NOT NULL,
			value      TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_wabot_info_info ON wabot_info(info)`,
		`CREATE TABLE IF NOT EXISTS wabot_plugins (
			name       TEXT PRIMARY KEY,
			url        TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
	},
	{
		`ALTER TABLE wabot_plugins ADD COLUMN sha256 TEXT NOT NULL DEFAULT ''`,
		`CREATE TABLE IF NOT EXISTS wabot_greetings (
			chat_id TEXT NOT NULL,
			kind    TEXT NOT NULL,
			message TEXT NOT NULL,
			PRIMARY KEY (chat_id, kind)
		)`,
	},
}

// LatestVersion is the schema version Migrate converges to.
var LatestVersion = len(migrations)

type migrator struct {
	db *sql.DB
}

func (m *migrator) currentVersion(ctx context.Context) (int, error) {
	var version int
	err := m.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		// Table might not exist yet
		return 0, nil
	}
	return version, nil
}

func (m *migrator) migrate(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version    INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	current, err := m.currentVersion(ctx)
	if err != nil {
		return err
	}

	for v := current + 1; v <= len(migrations); v++ {
		if err := m.apply(ctx, v); err != nil {
			return fmt.Errorf("apply migration %d: %w", v, err)
		}
	}
	return nil
}

func (m *migrator) apply(ctx context.Context, version int) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range migrations[version-1] {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_version (version, applied_at) VALUES ($1, $2)",
		version, now()); err != nil {
		return fmt.Errorf("record migration: %w", err)
	}
	return tx.Commit()
}
