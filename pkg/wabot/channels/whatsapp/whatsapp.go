// Package whatsapp connects the bot runtime to WhatsApp Web through
// whatsmeow. It restores the linked device from a session blob, translates
// whatsmeow events into bot events and implements bot.Conn on top of the
// client.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/jholhewres/wabot/pkg/wabot/bot"
	"github.com/jholhewres/wabot/pkg/wabot/database"
	"github.com/jholhewres/wabot/pkg/wabot/session"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// ErrDisconnected is returned by send operations while the client is offline.
var ErrDisconnected = errors.New("whatsapp: not connected")

// Config holds the WhatsApp client settings.
type Config struct {
	// DeviceName is shown in the phone's linked devices list.
	DeviceName string `yaml:"device_name"`

	// ClientLogLevel is the level of whatsmeow's own log output
	// (trace, debug, info, warn, error).
	ClientLogLevel string `yaml:"client_log_level"`

	// SendRead marks triggering messages as read.
	SendRead bool `yaml:"send_read"`

	// NoOnline sends "unavailable" presence for every processed event.
	NoOnline bool `yaml:"no_online"`
}

// DefaultConfig returns the default client settings.
func DefaultConfig() Config {
	return Config{
		DeviceName:     "wabot",
		ClientLogLevel: "warn",
		SendRead:       true,
	}
}

// EventFunc receives translated inbound events.
type EventFunc func(ctx context.Context, evt *bot.Event)

// WhatsApp is the whatsmeow-backed connection.
type WhatsApp struct {
	cfg       Config
	db        *database.DB
	lifecycle *Lifecycle
	logger    *slog.Logger

	client    *whatsmeow.Client
	browserID string
	connected atomic.Bool

	mu      sync.RWMutex
	onEvent EventFunc

	ctx    context.Context
	cancel context.CancelFunc
}

var _ bot.Conn = (*WhatsApp)(nil)

// New creates an unconnected client. lifecycle may be nil, in which case
// credential updates are not persisted.
func New(cfg Config, db *database.DB, lifecycle *Lifecycle, logger *slog.Logger) *WhatsApp {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DeviceName == "" {
		cfg.DeviceName = "wabot"
	}
	return &WhatsApp{
		cfg:       cfg,
		db:        db,
		lifecycle: lifecycle,
		logger:    logger.With("component", "whatsapp"),
	}
}

// OnEvent sets the receiver of inbound events. Set it before Connect.
func (w *WhatsApp) OnEvent(fn EventFunc) {
	w.mu.Lock()
	w.onEvent = fn
	w.mu.Unlock()
}

// Connect restores the linked device described by blob and opens the
// connection. The device tables live in the bot's own database.
func (w *WhatsApp) Connect(ctx context.Context, blob *session.Blob) error {
	if err := blob.Validate(); err != nil {
		return err
	}
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.browserID = blob.BrowserID

	container, err := w.openContainer(w.ctx)
	if err != nil {
		return err
	}
	device, err := w.restoreDevice(w.ctx, container, blob)
	if err != nil {
		return err
	}

	w.newClient(device)
	w.logger.Info("whatsapp: connecting", "jid", device.ID.String())
	if err := w.client.Connect(); err != nil {
		return fmt.Errorf("connecting: %w", err)
	}
	return nil
}

// Pair links a fresh device by QR code. onCode receives every code to
// display; the returned blob describes the newly linked device.
func (w *WhatsApp) Pair(ctx context.Context, onCode func(code string)) (*session.Blob, error) {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.browserID = session.NewBrowserID()

	container, err := w.openContainer(w.ctx)
	if err != nil {
		return nil, err
	}
	w.newClient(container.NewDevice())

	qrChan, err := w.client.GetQRChannel(w.ctx)
	if err != nil {
		return nil, fmt.Errorf("getting QR channel: %w", err)
	}
	if err := w.client.Connect(); err != nil {
		return nil, fmt.Errorf("connecting for QR: %w", err)
	}

	w.logger.Info("whatsapp: waiting for QR code scan")
	for {
		select {
		case <-w.ctx.Done():
			return nil, w.ctx.Err()
		case evt, ok := <-qrChan:
			if !ok {
				return nil, fmt.Errorf("QR channel closed unexpectedly")
			}
			switch evt.Event {
			case "code":
				onCode(evt.Code)
			case "success":
				w.logger.Info("whatsapp: login successful")
				return SnapshotDevice(w.client.Store, w.browserID)
			case "timeout":
				return nil, fmt.Errorf("QR code timeout")
			default:
				if evt.Error != nil {
					return nil, fmt.Errorf("QR login error: %w", evt.Error)
				}
			}
		}
	}
}

// Disconnect closes the connection.
func (w *WhatsApp) Disconnect() {
	if w.cancel != nil {
		w.cancel()
	}
	if w.client != nil {
		w.client.Disconnect()
	}
	w.connected.Store(false)
	w.logger.Info("whatsapp: disconnected")
}

// IsConnected reports whether the websocket is logged in.
func (w *WhatsApp) IsConnected() bool {
	return w.connected.Load()
}

func (w *WhatsApp) openContainer(ctx context.Context) (*sqlstore.Container, error) {
	dialect, address := w.db.DeviceStore()
	container, err := sqlstore.New(ctx, dialect, address, w.clientLogger("store"))
	if err != nil {
		return nil, fmt.Errorf("creating device store: %w", err)
	}
	return container, nil
}

// restoreDevice returns the stored device matching the blob's account, or
// creates one from the blob's key material.
func (w *WhatsApp) restoreDevice(ctx context.Context, container *sqlstore.Container, blob *session.Blob) (*store.Device, error) {
	devices, err := container.GetAllDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	for _, dev := range devices {
		if dev.ID != nil && dev.ID.String() == blob.JID {
			w.logger.Debug("whatsapp: using stored device", "jid", blob.JID)
			return dev, nil
		}
	}

	dev := container.NewDevice()
	if err := ApplyBlob(dev, blob); err != nil {
		return nil, err
	}
	if err := container.PutDevice(ctx, dev); err != nil {
		return nil, fmt.Errorf("saving restored device: %w", err)
	}
	w.logger.Info("whatsapp: device restored from session", "jid", blob.JID)
	return dev, nil
}

func (w *WhatsApp) newClient(device *store.Device) {
	store.SetOSInfo(w.cfg.DeviceName, [3]uint32{1, 0, 0})
	w.client = whatsmeow.NewClient(device, w.clientLogger("client"))
	w.client.AddEventHandler(w.handleEvent)
	w.client.EnableAutoReconnect = true
}

func (w *WhatsApp) clientLogger(module string) waLog.Logger {
	return newClientLogger(w.cfg.ClientLogLevel, module)
}

// SelfID returns the bot account's chat id, without device suffix.
func (w *WhatsApp) SelfID() string {
	if w.client == nil || w.client.Store.ID == nil {
		return ""
	}
	return w.client.Store.ID.ToNonAD().String()
}
