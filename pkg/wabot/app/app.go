// Package app assembles a running bot from its parts: the plugin registry
// with the builtin commands, the command router and the scheduler for
// manifest announcements. The connection is supplied by the caller, so the
// same assembly serves WhatsApp and the local console.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jholhewres/wabot/pkg/wabot/bot"
	"github.com/jholhewres/wabot/pkg/wabot/builtin"
	"github.com/jholhewres/wabot/pkg/wabot/config"
	"github.com/jholhewres/wabot/pkg/wabot/database"
	"github.com/jholhewres/wabot/pkg/wabot/plugins"
	"github.com/jholhewres/wabot/pkg/wabot/scheduler"
)

// App is a loaded bot ready to receive events.
type App struct {
	Registry  *plugins.Registry
	Router    *bot.Router
	Scheduler *scheduler.Scheduler

	conn   bot.Conn
	logger *slog.Logger
}

// New loads every command and schedule. A plugin load failure is returned
// and must abort startup.
func New(ctx context.Context, cfg *config.Config, db *database.DB, conn bot.Conn, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{conn: conn, logger: logger.With("component", "app")}

	a.Registry = plugins.NewRegistry(cfg.Plugins, db.Plugins(), logger)
	deps := &builtin.Deps{
		Name:         cfg.Name,
		AliveMessage: cfg.AliveMessage,
		Started:      time.Now(),
		Plugins:      db.Plugins(),
		Greetings:    db.Greetings(),
		Installer:    a.Registry,
	}
	a.Registry.Register(builtin.Commands(deps)...)

	cmds, err := a.Registry.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading plugins: %w", err)
	}

	a.Router = bot.NewRouter(conn, cmds, db.Greetings(), bot.RouterConfig{
		Sudo:     cfg.Sudo,
		SendRead: cfg.WhatsApp.SendRead,
		NoOnline: cfg.WhatsApp.NoOnline,
	}, logger)
	deps.Commands = a.Router.Commands

	a.Scheduler = scheduler.New(a.announce, logger)
	for _, s := range a.Registry.Schedules() {
		job := &scheduler.Job{
			ID:       s.ID,
			Schedule: s.Cron,
			ChatID:   s.ChatID,
			Text:     s.Text,
			Source:   s.Source,
		}
		if err := a.Scheduler.Add(job); err != nil {
			a.logger.Warn("app: skipping schedule", "id", s.ID, "error", err)
		}
	}

	a.logger.Info("app: ready", "commands", len(cmds), "schedules", len(a.Scheduler.List()))
	return a, nil
}

// Start runs the scheduler until ctx ends or Stop is called.
func (a *App) Start(ctx context.Context) error {
	return a.Scheduler.Start(ctx)
}

// Dispatch routes one inbound event.
func (a *App) Dispatch(ctx context.Context, evt *bot.Event) {
	a.Router.Dispatch(ctx, evt)
}

// Stop halts the scheduler and waits for running handlers.
func (a *App) Stop() {
	a.Scheduler.Stop()
	a.Router.Wait()
}

func (a *App) announce(ctx context.Context, job *scheduler.Job) error {
	if _, err := a.conn.Send(ctx, job.ChatID, bot.Outgoing{Text: job.Text}); err != nil {
		return fmt.Errorf("sending scheduled message: %w", err)
	}
	return nil
}
