// Package commands implements the wabot CLI using cobra.
package commands

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/jholhewres/wabot/pkg/wabot/config"
	"github.com/jholhewres/wabot/pkg/wabot/database"
	"github.com/jholhewres/wabot/pkg/wabot/session"
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command with every subcommand registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "wabot",
		Short: "wabot - WhatsApp userbot with plugins",
		Long: `wabot runs on a linked WhatsApp device and answers commands
typed by you, your sudo delegates or anyone you allow.

Examples:
  wabot setup
  wabot pair
  wabot serve
  wabot plugin add https://example.com/sticker.yaml`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newPairCmd(),
		newSessionCmd(),
		newPluginCmd(),
		newConsoleCmd(),
		newSetupCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the config file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}

// loadConfig reads the file named by --config, then a discovered
// config.yaml, then falls back to defaults and the environment.
func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	path, _ := cmd.Root().PersistentFlags().GetString("config")
	if path == "" {
		path = config.FindConfigFile()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

func newLogger(cmd *cobra.Command, cfg *config.Config, out io.Writer) *slog.Logger {
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	level := slog.LevelInfo
	switch {
	case verbose || cfg.Logging.Level == "debug":
		level = slog.LevelDebug
	case cfg.Logging.Level == "warn":
		level = slog.LevelWarn
	case cfg.Logging.Level == "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	return slog.New(handler)
}

// openDatabase opens and migrates the configured database.
func openDatabase(cmd *cobra.Command, cfg *config.Config, logger *slog.Logger) (*database.DB, error) {
	db, err := database.Open(cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(cmd.Context()); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// newCodec resolves the passphrase and builds the session codec.
func newCodec(cfg *config.Config, logger *slog.Logger) (*session.Codec, error) {
	pass, src, err := config.ResolvePassphrase(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w (set %s, session.key or run 'wabot session set-key')", err, config.EnvSessionKey)
	}
	logger.Debug("session passphrase resolved", "source", src)
	return session.NewCodec(pass), nil
}

// failure prints a red banner on stderr.
func failure(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "\033[1;31m✖ %s\033[0m\n", fmt.Sprintf(format, args...))
}
