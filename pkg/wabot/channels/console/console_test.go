package console

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/jholhewres/wabot/pkg/wabot/bot"
)

func TestEvent(t *testing.T) {
	c := New(&bytes.Buffer{})
	e := c.Event(".alive")
	if !e.FromMe || e.ChatID != SelfID || e.Content.Conversation != ".alive" {
		t.Errorf("event = %+v", e)
	}
	if len(e.ID) != 16 || e.ID == c.Event(".alive").ID {
		t.Errorf("ids should be unique 16 char strings, got %q", e.ID)
	}
	if cl := bot.Classify(e); cl.Text != ".alive" {
		t.Errorf("classified text = %q", cl.Text)
	}
}

func TestSendFormatting(t *testing.T) {
	var out bytes.Buffer
	c := New(&out)
	ctx := context.Background()

	tests := []struct {
		name string
		chat string
		msg  bot.Outgoing
		want string
	}{
		{"self", SelfID, bot.Outgoing{Text: "hello"}, "hello\n"},
		{"other chat", "42@g.us", bot.Outgoing{Text: "hi"}, "[42@g.us] hi\n"},
		{"reply", SelfID, bot.Outgoing{Text: "ok", Quote: &bot.Event{ID: "M1"}}, "(reply to M1) ok\n"},
		{"media", SelfID, bot.Outgoing{Text: "pic", Media: &bot.OutgoingMedia{Kind: bot.MediaImage, Data: []byte("abc")}}, "<image, 3 bytes> pic\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out.Reset()
			id, err := c.Send(ctx, tt.chat, tt.msg)
			if err != nil || id == "" {
				t.Fatalf("Send = %q, %v", id, err)
			}
			if out.String() != tt.want {
				t.Errorf("output = %q, want %q", out.String(), tt.want)
			}
		})
	}
}

func TestReactDeleteDownload(t *testing.T) {
	var out bytes.Buffer
	c := New(&out)
	ctx := context.Background()
	key := bot.MessageKey{ChatID: SelfID, ID: "M1", FromMe: true}

	_ = c.React(ctx, key, "👀")
	_ = c.Delete(ctx, key)
	if out.String() != "(reacted 👀 to M1)\n(deleted M1)\n" {
		t.Errorf("output = %q", out.String())
	}

	data, err := c.Download(ctx, &bot.Media{Raw: []byte("img")})
	if err != nil || string(data) != "img" {
		t.Errorf("Download = %q, %v", data, err)
	}
	if _, err := c.Download(ctx, &bot.Media{}); !errors.Is(err, bot.ErrNoMedia) {
		t.Errorf("err = %v, want ErrNoMedia", err)
	}
}
