package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jholhewres/wabot/pkg/wabot/config"
	"github.com/jholhewres/wabot/pkg/wabot/database"
)

func testConfig(t *testing.T) string {
	t.Helper()
	t.Setenv(config.EnvSessionKey, "correct horse battery staple")
	t.Setenv(config.EnvSession, "")
	t.Setenv(config.EnvSudo, "")
	t.Setenv(config.EnvDatabaseURL, "")

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "database:\n  sqlite:\n    path: bot.db\nplugins:\n  dir: plugins\nlogging:\n  level: error\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := NewRootCmd("test")
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRootRegistersSubcommands(t *testing.T) {
	root := NewRootCmd("1.2.3")
	for _, name := range []string{"serve", "pair", "session", "plugin", "console", "setup"} {
		if c, _, err := root.Find([]string{name}); err != nil || c.Name() != name {
			t.Errorf("missing subcommand %q", name)
		}
	}
	if root.Version != "1.2.3" {
		t.Errorf("Version = %q", root.Version)
	}
}

func TestSessionEncryptDecrypt(t *testing.T) {
	cfgPath := testConfig(t)
	blobPath := filepath.Join(t.TempDir(), "creds.json")
	if err := os.WriteFile(blobPath, []byte(`{"browser_id":"b-1","jid":"5511999990000@s.whatsapp.net"}`), 0o600); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, "session", "encrypt", blobPath, "-c", cfgPath)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	s := strings.TrimSpace(out)
	if s == "" {
		t.Fatal("empty session string")
	}

	out, err = run(t, "session", "decrypt", s, "-c", cfgPath)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !strings.Contains(out, `"browser_id": "b-1"`) || !strings.Contains(out, "5511999990000") {
		t.Errorf("decrypted = %s", out)
	}
}

func TestSessionEncryptRejectsInvalid(t *testing.T) {
	cfgPath := testConfig(t)
	blobPath := filepath.Join(t.TempDir(), "creds.json")
	if err := os.WriteFile(blobPath, []byte(`{"jid":"1@s.whatsapp.net"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := run(t, "session", "encrypt", blobPath, "-c", cfgPath); err == nil {
		t.Error("expected error for blob without browser id")
	}
}

func TestPluginListEmpty(t *testing.T) {
	cfgPath := testConfig(t)
	out, err := run(t, "plugin", "list", "-c", cfgPath)
	if err != nil {
		t.Fatalf("plugin list: %v", err)
	}
	if !strings.Contains(out, "No plugins registered.") {
		t.Errorf("output = %q", out)
	}
}

func TestPluginRemoveUnknown(t *testing.T) {
	cfgPath := testConfig(t)
	if _, err := run(t, "plugin", "remove", "nope", "-c", cfgPath); err == nil {
		t.Error("expected error for unknown plugin")
	}
}

func TestSetupApply(t *testing.T) {
	cfg := config.DefaultConfig()
	setupAnswers{
		name:       " mybot ",
		sudo:       "5511999990000, 5511999990001",
		backend:    string(database.BackendPostgreSQL),
		pgURL:      "postgres://u:p@db/wabot",
		noOnline:   true,
		pluginDir:  "ext",
		allowExec:  true,
		sqlitePath: "x.db",
	}.apply(cfg)

	if cfg.Name != "mybot" || len(cfg.Sudo) != 2 || cfg.Sudo[1] != "5511999990001" {
		t.Errorf("identity = %q %v", cfg.Name, cfg.Sudo)
	}
	if cfg.Database.Backend != database.BackendPostgreSQL || cfg.Database.PostgreSQL.URL != "postgres://u:p@db/wabot" {
		t.Errorf("database = %+v", cfg.Database)
	}
	if cfg.WhatsApp.SendRead || !cfg.WhatsApp.NoOnline || !cfg.Plugins.AllowExec || cfg.Plugins.Dir != "ext" {
		t.Errorf("flags = %+v %+v", cfg.WhatsApp, cfg.Plugins)
	}

	if required("name")("  ") == nil || required("name")("x") != nil {
		t.Error("required validator")
	}
}
