// Package backends opens the SQL connections used by wabot storage.
package backends

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteConfig holds SQLite-specific configuration.
type SQLiteConfig struct {
	Path        string
	JournalMode string
	BusyTimeout int
}

func (c SQLiteConfig) withDefaults() SQLiteConfig {
	if c.Path == "" {
		c.Path = "./data/wabot.db"
	}
	if c.JournalMode == "" {
		c.JournalMode = "WAL"
	}
	if c.BusyTimeout == 0 {
		c.BusyTimeout = 5000
	}
	return c
}

// SQLiteDSN is the go-sqlite3 address for config. Foreign keys are always
// on because whatsmeow's device tables cascade on delete.
func SQLiteDSN(config SQLiteConfig) string {
	config = config.withDefaults()
	return fmt.Sprintf("file:%s?_foreign_keys=1&_journal_mode=%s&_busy_timeout=%d",
		config.Path, config.JournalMode, config.BusyTimeout)
}

// OpenSQLite opens or creates the database file, creating its directory.
func OpenSQLite(config SQLiteConfig) (*sql.DB, error) {
	config = config.withDefaults()

	dir := filepath.Dir(config.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create database directory %q: %w", dir, err)
	}

	db, err := sql.Open("sqlite3", SQLiteDSN(config))
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", config.Path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}
