package bot

import (
	"context"
	"errors"
	"sync"
)

type sent struct {
	ChatID string
	Msg    Outgoing
}

// fakeConn records every call made by the router and handlers.
type fakeConn struct {
	mu       sync.Mutex
	self     string
	sent     []sent
	reacts   []string
	deletes  []MessageKey
	reads    []MessageKey
	presence []string
	failSend bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{self: "100@s.whatsapp.net"}
}

func (c *fakeConn) SelfID() string { return c.self }

func (c *fakeConn) Send(ctx context.Context, chatID string, msg Outgoing) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failSend {
		return "", errors.New("send failed")
	}
	c.sent = append(c.sent, sent{ChatID: chatID, Msg: msg})
	return "OUT", nil
}

func (c *fakeConn) React(ctx context.Context, key MessageKey, emoji string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reacts = append(c.reacts, emoji)
	return nil
}

func (c *fakeConn) Delete(ctx context.Context, key MessageKey) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deletes = append(c.deletes, key)
	return nil
}

func (c *fakeConn) MarkRead(ctx context.Context, key MessageKey) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads = append(c.reads, key)
	return nil
}

func (c *fakeConn) SendPresence(ctx context.Context, chatID string, state Presence) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.presence = append(c.presence, chatID+"="+string(state))
	return nil
}

func (c *fakeConn) Download(ctx context.Context, media *Media) ([]byte, error) {
	return []byte("media:" + media.Mimetype), nil
}

func (c *fakeConn) sentTo(chatID string) []Outgoing {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Outgoing
	for _, s := range c.sent {
		if s.ChatID == chatID {
			out = append(out, s.Msg)
		}
	}
	return out
}

type fakeGreetings map[string]string

func (g fakeGreetings) Greeting(ctx context.Context, chatID, kind string) (string, bool, error) {
	text, ok := g[chatID+"/"+kind]
	return text, ok, nil
}
