package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jholhewres/wabot/pkg/wabot/app"
	"github.com/jholhewres/wabot/pkg/wabot/channels/whatsapp"
	"github.com/jholhewres/wabot/pkg/wabot/session"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect to WhatsApp and answer commands",
		Long: `Recover the session, load plugins and connect to WhatsApp.

The session is read from the database first and from session.string
(or WABOT_SESSION) otherwise. Run 'wabot pair' when there is none.

Examples:
  wabot serve
  wabot serve --config ./config.yaml -v`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		failure("could not load config: %v", err)
		return err
	}
	logger := newLogger(cmd, cfg, os.Stdout)

	codec, err := newCodec(cfg, logger)
	if err != nil {
		failure("%v", err)
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	db, err := openDatabase(cmd, cfg, logger)
	if err != nil {
		failure("could not open database: %v", err)
		return err
	}
	defer db.Close()

	blob, source, err := session.Recover(ctx, db.Sessions(), cfg.Session.String, codec)
	if err != nil {
		if errors.Is(err, session.ErrInvalidSession) {
			failure("invalid session, run 'wabot pair' or check the passphrase")
		} else {
			failure("could not recover session: %v", err)
		}
		return err
	}
	logger.Info("session recovered", "source", source)

	lifecycle := whatsapp.NewLifecycle(codec, db.Sessions(), logger)
	wa := whatsapp.New(cfg.WhatsApp, db, lifecycle, logger)

	a, err := app.New(ctx, cfg, db, wa, logger)
	if err != nil {
		failure("%v", err)
		return err
	}
	wa.OnEvent(a.Dispatch)

	if err := wa.Connect(ctx, blob); err != nil {
		failure("could not connect: %v", err)
		return err
	}
	defer wa.Disconnect()

	if err := a.Start(ctx); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	defer a.Stop()

	fmt.Printf("%s is running (session from %s). Press Ctrl+C to stop.\n", cfg.Name, source)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	case <-ctx.Done():
	}
	return nil
}
