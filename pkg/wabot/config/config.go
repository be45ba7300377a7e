// Package config loads the wabot configuration from YAML with .env support
// and environment variable expansion, and resolves the session passphrase.
package config

import (
	"time"

	"github.com/jholhewres/wabot/pkg/wabot/channels/whatsapp"
	"github.com/jholhewres/wabot/pkg/wabot/database"
	"github.com/jholhewres/wabot/pkg/wabot/plugins"
)

// Config is the root configuration.
type Config struct {
	// Name is the bot name used in replies such as .alive.
	Name string `yaml:"name"`

	// AliveMessage replaces the default .alive text when set.
	AliveMessage string `yaml:"alive_message"`

	// Sudo lists delegate accounts allowed to run owner-only commands in
	// groups. Phone numbers or JIDs.
	Sudo []string `yaml:"sudo"`

	Session  SessionConfig   `yaml:"session"`
	Database database.Config `yaml:"database"`
	WhatsApp whatsapp.Config `yaml:"whatsapp"`
	Plugins  plugins.Config  `yaml:"plugins"`
	Logging  LoggingConfig   `yaml:"logging"`
}

// SessionConfig holds the fallback session string and its passphrase.
type SessionConfig struct {
	// String is the encrypted session used when storage has none.
	String string `yaml:"string"`

	// Key is the passphrase. Prefer ${WABOT_SESSION_KEY} or the OS keyring
	// over a literal value.
	Key string `yaml:"key"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	// Level is debug, info, warn or error (default: info).
	Level string `yaml:"level"`

	// Format is "text" or "json" (default: text).
	Format string `yaml:"format"`
}

// DefaultConfig returns the configuration used when no file sets a value.
func DefaultConfig() *Config {
	return &Config{
		Name:     "wabot",
		Database: database.DefaultConfig(),
		WhatsApp: whatsapp.DefaultConfig(),
		Plugins: plugins.Config{
			Dir:          "./plugins",
			FetchTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
