package whatsapp

import (
	"context"
	"log/slog"

	"github.com/jholhewres/wabot/pkg/wabot/session"
)

// ConnectionState is the coarse state reported by the connection.
type ConnectionState string

const (
	StateOpen  ConnectionState = "open"
	StateClose ConnectionState = "close"
)

// ConnectionUpdate is a connection state change. StatusCode carries the
// server-supplied reason on close, zero when none was given.
type ConnectionUpdate struct {
	State      ConnectionState
	StatusCode int
	Reason     string
}

// Lifecycle reacts to connection and credential notifications. It is the only
// writer of the persisted session row.
type Lifecycle struct {
	codec  *session.Codec
	store  session.Store
	logger *slog.Logger
}

// NewLifecycle creates a lifecycle adapter persisting through store.
func NewLifecycle(codec *session.Codec, store session.Store, logger *slog.Logger) *Lifecycle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lifecycle{
		codec:  codec,
		store:  store,
		logger: logger.With("component", "lifecycle"),
	}
}

// OnConnection logs the state change. Reconnecting is left to whatsmeow.
func (l *Lifecycle) OnConnection(u ConnectionUpdate) {
	switch u.State {
	case StateOpen:
		l.logger.Info("lifecycle: connection open")
	case StateClose:
		l.logger.Warn("lifecycle: connection closed", "status_code", u.StatusCode, "reason", u.Reason)
	default:
		l.logger.Debug("lifecycle: connection update", "state", u.State)
	}
}

// OnCredentials encrypts and saves the blob. Every notification is written,
// whether or not the credentials changed.
func (l *Lifecycle) OnCredentials(ctx context.Context, b *session.Blob) error {
	if err := session.Persist(ctx, l.store, l.codec, b); err != nil {
		l.logger.Error("lifecycle: persisting credentials failed", "error", err)
		return err
	}
	l.logger.Debug("lifecycle: credentials persisted", "jid", b.JID)
	return nil
}
