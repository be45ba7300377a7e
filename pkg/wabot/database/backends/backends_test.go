package backends

import (
	"path/filepath"
	"testing"
)

func TestOpenSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "wabot.db")

	db, err := OpenSQLite(SQLiteConfig{Path: path})
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer db.Close()

	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("expected wal journal mode, got %q", mode)
	}
}

func TestBuildPostgreSQLDSN(t *testing.T) {
	t.Run("url wins", func(t *testing.T) {
		dsn := BuildPostgreSQLDSN(PostgreSQLConfig{URL: "postgres://u:p@db:5432/bot", Host: "ignored"})
		if dsn != "postgres://u:p@db:5432/bot" {
			t.Errorf("unexpected dsn %q", dsn)
		}
	})

	t.Run("discrete fields", func(t *testing.T) {
		dsn := BuildPostgreSQLDSN(PostgreSQLConfig{
			Host: "db", Port: 5433, User: "bot", Password: "pw", Database: "wabot", SSLMode: "require",
		})
		want := "host=db port=5433 user=bot password=pw dbname=wabot sslmode=require"
		if dsn != want {
			t.Errorf("dsn = %q, want %q", dsn, want)
		}
	})
}

func TestSQLiteForeignKeys(t *testing.T) {
	db, err := OpenSQLite(SQLiteConfig{Path: filepath.Join(t.TempDir(), "fk.db")})
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer db.Close()

	var on int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&on); err != nil {
		t.Fatalf("foreign_keys: %v", err)
	}
	if on != 1 {
		t.Errorf("foreign_keys = %d, want 1", on)
	}
}

func TestSQLiteDSNDefaults(t *testing.T) {
	want := "file:./data/wabot.db?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=5000"
	if got := SQLiteDSN(SQLiteConfig{}); got != want {
		t.Errorf("dsn = %q, want %q", got, want)
	}
}
