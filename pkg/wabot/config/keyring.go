package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
	"golang.org/x/term"
)

const (
	// keyringService is the service name used in the OS keyring.
	keyringService = "wabot"

	// keyringSessionKey holds the session passphrase.
	keyringSessionKey = "session_key"
)

// ErrNoPassphrase means no session passphrase was configured anywhere.
var ErrNoPassphrase = errors.New("no session passphrase: set session.key, WABOT_SESSION_KEY or run `wabot session set-key`")

// PassphraseSource names where a passphrase was found.
type PassphraseSource string

const (
	PassphraseConfig  PassphraseSource = "config"
	PassphraseEnv     PassphraseSource = "env"
	PassphraseKeyring PassphraseSource = "keyring"
)

// ResolvePassphrase returns the session passphrase: the config value, then
// WABOT_SESSION_KEY, then the OS keyring.
func ResolvePassphrase(cfg *Config) (string, PassphraseSource, error) {
	if cfg.Session.Key != "" && !isEnvReference(cfg.Session.Key) {
		return cfg.Session.Key, PassphraseConfig, nil
	}
	if v := os.Getenv(EnvSessionKey); v != "" {
		return v, PassphraseEnv, nil
	}
	if v := GetKeyring(keyringSessionKey); v != "" {
		return v, PassphraseKeyring, nil
	}
	return "", "", ErrNoPassphrase
}

// StorePassphrase saves the session passphrase in the OS keyring.
func StorePassphrase(passphrase string) error {
	if err := keyring.Set(keyringService, keyringSessionKey, passphrase); err != nil {
		return fmt.Errorf("storing in keyring: %w", err)
	}
	return nil
}

// GetKeyring retrieves a secret from the OS keyring.
// Returns empty string if not found.
func GetKeyring(key string) string {
	val, err := keyring.Get(keyringService, key)
	if err != nil {
		return ""
	}
	return val
}

// DeletePassphrase removes the stored passphrase.
func DeletePassphrase() error {
	return keyring.Delete(keyringService, keyringSessionKey)
}

// ReadPassword prompts on stdout and reads a line without echo. Piped input
// is read as is.
func ReadPassword(prompt string) (string, error) {
	fmt.Print(prompt)

	fd := int(os.Stdin.Fd())
	password, err := term.ReadPassword(fd)
	if err != nil {
		var buf [1024]byte
		n, readErr := os.Stdin.Read(buf[:])
		if readErr != nil {
			return "", fmt.Errorf("reading password: %w", readErr)
		}
		password = buf[:n]
	}
	fmt.Println()

	return strings.TrimRight(string(password), "\r\n"), nil
}

// IsTerminal reports whether stdin is interactive.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// isEnvReference reports an unexpanded ${VAR} left in the config.
func isEnvReference(s string) bool {
	return strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}")
}
