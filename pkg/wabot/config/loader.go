package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/jholhewres/wabot/pkg/wabot/database"
	"github.com/jholhewres/wabot/pkg/wabot/textutil"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment overrides.
const (
	EnvSession     = "WABOT_SESSION"
	EnvSessionKey  = "WABOT_SESSION_KEY"
	EnvSudo        = "WABOT_SUDO"
	EnvDatabaseURL = "DATABASE_URL"
)

// envVarPattern matches ${VAR}, ${VAR:-default} and ${VAR:?message}.
// Groups: 1 name, 2 modifier ("-" or "?"), 3 default or message.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::(-|\?)([^}]*))?\}`)

// Load reads path, expanding environment references, and applies the
// environment overrides. An empty path loads defaults plus environment.
func Load(path string) (*Config, error) {
	loadEnvFiles()

	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		expanded, err := expandEnvVars(string(data))
		if err != nil {
			return nil, fmt.Errorf("expanding environment variables: %w", err)
		}
		cfg, err = Parse([]byte(expanded))
		if err != nil {
			return nil, err
		}
		resolveRelativePaths(cfg, path)
		checkFilePermissions(path)
	}

	applyEnv(cfg)
	return cfg, nil
}

// Parse decodes YAML over the defaults. Keys absent from data keep their
// default values.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	return cfg, nil
}

// Save writes cfg as YAML with owner-only permissions, keeping a .bak copy
// of any existing file.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if existing, err := os.ReadFile(path); err == nil {
		_ = os.WriteFile(path+".bak", existing, 0o600)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// FindConfigFile returns the first config file found in the standard
// locations, or "".
func FindConfigFile() string {
	candidates := []string{
		"config.yaml",
		"config.yml",
		"wabot.yaml",
		"wabot.yml",
		"configs/config.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// loadEnvFiles loads .env files. Existing variables are not overwritten.
func loadEnvFiles() {
	for _, f := range []string{".env", ".env.local"} {
		_ = godotenv.Load(f)
	}
}

// expandEnvVars substitutes environment references. ${VAR} without a
// modifier is left untouched when unset; ${VAR:?msg} fails.
func expandEnvVars(input string) (string, error) {
	var missing []string
	out := envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		sub := envVarPattern.FindStringSubmatch(match)
		name, modifier, value := sub[1], sub[2], sub[3]

		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		switch modifier {
		case "-":
			return value
		case "?":
			if value == "" {
				value = "required environment variable not set"
			}
			missing = append(missing, name+": "+value)
			return ""
		}
		return match
	})
	if len(missing) > 0 {
		return "", errors.New(strings.Join(missing, "; "))
	}
	return out, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvSession); v != "" {
		cfg.Session.String = v
	}
	if v := os.Getenv(EnvSudo); v != "" {
		cfg.Sudo = textutil.SplitList(v)
	}
	if v := os.Getenv(EnvDatabaseURL); v != "" {
		cfg.Database.Backend = database.BackendPostgreSQL
		cfg.Database.PostgreSQL.URL = v
	}
}

// resolveRelativePaths makes file paths relative to the config file's
// directory.
func resolveRelativePaths(cfg *Config, configPath string) {
	dir := filepath.Dir(configPath)
	if dir == "." {
		return
	}
	cfg.Database.SQLite.Path = resolvePath(cfg.Database.SQLite.Path, dir)
	cfg.Plugins.Dir = resolvePath(cfg.Plugins.Dir, dir)
}

func resolvePath(path, dir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

// checkFilePermissions warns when the config file is readable by others,
// since it may hold the session string.
func checkFilePermissions(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if info.Mode().Perm()&0o077 != 0 {
		slog.Warn("config: file is accessible by other users",
			"path", path,
			"mode", fmt.Sprintf("%04o", info.Mode().Perm()),
			"hint", "chmod 600 "+path)
	}
}
