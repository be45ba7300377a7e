// Package console is a local connection for trying commands without a
// WhatsApp account. Typed lines become owner messages and everything the
// bot sends is printed.
package console

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jholhewres/wabot/pkg/wabot/bot"
)

// SelfID is the chat id of the console user, who is the bot owner.
const SelfID = "console@s.whatsapp.net"

// Conn implements bot.Conn by writing to out.
type Conn struct {
	mu  sync.Mutex
	out io.Writer
}

var _ bot.Conn = (*Conn)(nil)

// New creates a console connection printing to out.
func New(out io.Writer) *Conn {
	return &Conn{out: out}
}

// Event builds the inbound event for a typed line.
func (c *Conn) Event(line string) *bot.Event {
	return &bot.Event{
		ID:        strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:16],
		ChatID:    SelfID,
		FromMe:    true,
		Content:   &bot.Content{Conversation: line},
		PushName:  "console",
		Timestamp: time.Now(),
	}
}

func (c *Conn) SelfID() string { return SelfID }

func (c *Conn) Send(_ context.Context, chatID string, msg bot.Outgoing) (string, error) {
	var b strings.Builder
	if chatID != SelfID {
		fmt.Fprintf(&b, "[%s] ", chatID)
	}
	if msg.Quote != nil {
		fmt.Fprintf(&b, "(reply to %s) ", msg.Quote.ID)
	}
	if msg.Media != nil {
		fmt.Fprintf(&b, "<%s, %d bytes> ", msg.Media.Kind, len(msg.Media.Data))
	}
	b.WriteString(msg.Text)
	c.println(b.String())
	return uuid.NewString(), nil
}

func (c *Conn) React(_ context.Context, key bot.MessageKey, emoji string) error {
	c.println(fmt.Sprintf("(reacted %s to %s)", emoji, key.ID))
	return nil
}

func (c *Conn) Delete(_ context.Context, key bot.MessageKey) error {
	c.println(fmt.Sprintf("(deleted %s)", key.ID))
	return nil
}

func (c *Conn) MarkRead(context.Context, bot.MessageKey) error { return nil }

func (c *Conn) SendPresence(context.Context, string, bot.Presence) error { return nil }

// Download returns the attachment bytes when Raw holds them.
func (c *Conn) Download(_ context.Context, media *bot.Media) ([]byte, error) {
	if media == nil {
		return nil, bot.ErrNoMedia
	}
	data, ok := media.Raw.([]byte)
	if !ok {
		return nil, bot.ErrNoMedia
	}
	return data, nil
}

func (c *Conn) println(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, s)
}
