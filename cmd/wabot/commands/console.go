package commands

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/jholhewres/wabot/pkg/wabot/app"
	"github.com/jholhewres/wabot/pkg/wabot/channels/console"
	"github.com/spf13/cobra"
)

func newConsoleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "console",
		Short: "Try commands locally without WhatsApp",
		Long: `Start an interactive prompt. Every line is delivered to the bot as a
message you sent yourself, and replies are printed below it.

Examples:
  wabot console
  > .alive
  > .help`,
		RunE: runConsole,
	}
}

func runConsole(cmd *cobra.Command, _ []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "\033[36m>\033[0m ",
		HistoryFile:     filepath.Join(filepath.Dir(cfg.Database.SQLite.Path), ".console_history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("starting prompt: %w", err)
	}
	defer rl.Close()

	logger := newLogger(cmd, cfg, rl.Stderr())
	db, err := openDatabase(cmd, cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	conn := console.New(rl.Stdout())
	a, err := app.New(cmd.Context(), cfg, db, conn, logger)
	if err != nil {
		return err
	}

	fmt.Fprintf(rl.Stdout(), "%s console. Type .help for commands, exit to quit.\n", cfg.Name)
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		a.Dispatch(cmd.Context(), conn.Event(line))
		a.Router.Wait()
	}
}
