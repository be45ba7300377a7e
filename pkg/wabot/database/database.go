// Package database provides persistent storage for wabot: the encrypted
// session row, plugin records and per-chat greetings. The same handle is
// shared with whatsmeow's device store.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/jholhewres/wabot/pkg/wabot/database/backends"
)

// DB wraps the SQL handle. Dialect is the driver name whatsmeow's sqlstore
// opens the device store with ("sqlite3" or "pgx").
type DB struct {
	SQL     *sql.DB
	Dialect string
	Backend BackendType

	cfg    Config
	logger *slog.Logger
}

// Open connects to the configured backend. Call Migrate before use.
func Open(cfg Config, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.Effective()

	var (
		db      *sql.DB
		dialect string
		err     error
	)
	switch cfg.Backend {
	case BackendSQLite:
		db, err = backends.OpenSQLite(backends.SQLiteConfig{
			Path:        cfg.SQLite.Path,
			JournalMode: cfg.SQLite.JournalMode,
			BusyTimeout: cfg.SQLite.BusyTimeout,
		})
		dialect = "sqlite3"
	case BackendPostgreSQL:
		pg := cfg.PostgreSQL
		db, err = backends.OpenPostgreSQL(backends.PostgreSQLConfig{
			URL:             pg.URL,
			Host:            pg.Host,
			Port:            pg.Port,
			Database:        pg.Database,
			User:            pg.User,
			Password:        pg.Password,
			SSLMode:         pg.SSLMode,
			MaxOpenConns:    pg.MaxOpenConns,
			MaxIdleConns:    pg.MaxIdleConns,
			ConnMaxLifetime: pg.ConnMaxLifetime,
		})
		dialect = "pgx"
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s backend: %w", cfg.Backend, err)
	}

	logger.Info("database: opened", "backend", cfg.Backend)

	return &DB{SQL: db, Dialect: dialect, Backend: cfg.Backend, cfg: cfg, logger: logger}, nil
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	return d.SQL.Close()
}

// DeviceStore returns the dialect and address whatsmeow uses to open its
// own tables in the same database.
func (d *DB) DeviceStore() (dialect, address string) {
	if d.Backend == BackendPostgreSQL {
		pg := d.cfg.PostgreSQL
		return d.Dialect, backends.BuildPostgreSQLDSN(backends.PostgreSQLConfig{
			URL:      pg.URL,
			Host:     pg.Host,
			Port:     pg.Port,
			Database: pg.Database,
			User:     pg.User,
			Password: pg.Password,
			SSLMode:  pg.SSLMode,
		})
	}
	sq := d.cfg.SQLite
	return d.Dialect, backends.SQLiteDSN(backends.SQLiteConfig{
		Path:        sq.Path,
		JournalMode: sq.JournalMode,
		BusyTimeout: sq.BusyTimeout,
	})
}

// Sessions returns the credential row store.
func (d *DB) Sessions() *SessionStore { return &SessionStore{db: d.SQL} }

// Plugins returns the plugin record store.
func (d *DB) Plugins() *PluginStore { return &PluginStore{db: d.SQL} }

// Greetings returns the greeting store.
func (d *DB) Greetings() *GreetingStore { return &GreetingStore{db: d.SQL} }

// Migrate brings the wabot tables up to the latest schema version.
func (d *DB) Migrate(ctx context.Context) error {
	m := &migrator{db: d.SQL}
	before, _ := m.currentVersion(ctx)
	if err := m.migrate(ctx); err != nil {
		return err
	}
	after, err := m.currentVersion(ctx)
	if err != nil {
		return err
	}
	if after != before {
		d.logger.Info("database: schema migrated", "from", before, "to", after)
	}
	return nil
}
