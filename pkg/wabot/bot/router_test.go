package bot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func textEvent(text string) *Event {
	return &Event{ID: "M1", ChatID: "555@s.whatsapp.net", Content: &Content{Conversation: text}}
}

// recorder collects handler invocations from concurrent goroutines.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) handler(name string) HandlerFunc {
	return func(ctx context.Context, msg Message, match []string) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.calls = append(r.calls, name)
		return nil
	}
}

func (r *recorder) has(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.calls {
		if c == name {
			return true
		}
	}
	return false
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func TestRouterDropsStatusBroadcast(t *testing.T) {
	conn := newFakeConn()
	rec := &recorder{}
	cmds := []Command{{On: MediaText, Handler: rec.handler("any")}}
	r := NewRouter(conn, cmds, nil, RouterConfig{NoOnline: true, SendRead: true}, testLogger())

	evt := textEvent(".ping")
	evt.ChatID = StatusBroadcast
	r.Dispatch(context.Background(), evt)
	r.Dispatch(context.Background(), &Event{ChatID: "555@s.whatsapp.net"})
	r.Wait()

	if rec.count() != 0 {
		t.Errorf("expected no dispatch, got %v", rec.calls)
	}
	if len(conn.presence) != 0 {
		t.Errorf("expected no presence update, got %v", conn.presence)
	}
	if len(conn.sent) != 0 {
		t.Errorf("expected no messages, got %v", conn.sent)
	}
}

func TestRouterPresence(t *testing.T) {
	conn := newFakeConn()
	r := NewRouter(conn, nil, nil, RouterConfig{NoOnline: true}, testLogger())
	r.Dispatch(context.Background(), textEvent("hello"))
	r.Wait()

	if len(conn.presence) != 1 || conn.presence[0] != "555@s.whatsapp.net=unavailable" {
		t.Errorf("unexpected presence updates %v", conn.presence)
	}
}

func TestRouterStubGreetings(t *testing.T) {
	group := "42@g.us"
	greetings := fakeGreetings{group + "/goodbye": "bye", group + "/welcome": "welcome!"}

	tests := []struct {
		name      string
		chat      string
		stub      int
		wantTexts []string
	}{
		{"remove with goodbye", group, 28, []string{"bye"}},
		{"leave with goodbye", group, 32, []string{"bye"}},
		{"add with welcome", group, 27, []string{"welcome!"}},
		{"invite with welcome", group, 31, []string{"welcome!"}},
		{"remove without goodbye", "other@g.us", 28, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := newFakeConn()
			rec := &recorder{}
			cmds := []Command{{On: MediaText, Handler: rec.handler("text")}}
			r := NewRouter(conn, cmds, greetings, RouterConfig{}, testLogger())

			r.Dispatch(context.Background(), &Event{
				ChatID: tt.chat, StubType: tt.stub, Content: &Content{Conversation: "text"},
			})
			r.Wait()

			got := conn.sentTo(tt.chat)
			if len(got) != len(tt.wantTexts) {
				t.Fatalf("expected %d messages, got %d", len(tt.wantTexts), len(got))
			}
			for i, want := range tt.wantTexts {
				if got[i].Text != want {
					t.Errorf("message %d = %q, want %q", i, got[i].Text, want)
				}
			}
			if rec.count() != 0 {
				t.Error("stub events must not reach commands")
			}
		})
	}
}

func TestRouterFanOutIsolation(t *testing.T) {
	conn := newFakeConn()
	rec := &recorder{}
	pattern := regexp.MustCompile(`^\.test`)
	cmds := []Command{
		{Pattern: pattern, Handler: func(ctx context.Context, msg Message, match []string) error {
			return errors.New("boom")
		}},
		{Pattern: pattern, Handler: rec.handler("second")},
		{Pattern: pattern, Handler: func(ctx context.Context, msg Message, match []string) error {
			panic("kaboom")
		}},
		{Pattern: regexp.MustCompile(`^\.other`), Handler: rec.handler("other")},
	}
	r := NewRouter(conn, cmds, nil, RouterConfig{}, testLogger())

	r.Dispatch(context.Background(), textEvent(".test"))
	r.Wait()

	if !rec.has("second") {
		t.Error("second handler should run despite the failures")
	}
	if rec.has("other") {
		t.Error("non-matching command should not run")
	}

	reports := conn.sentTo(conn.SelfID())
	if len(reports) != 2 {
		t.Fatalf("expected 2 error reports, got %d", len(reports))
	}
	var sawBoom, sawPanic bool
	for _, rep := range reports {
		if !strings.HasPrefix(rep.Text, ReportHeader+"\n```") || !strings.HasSuffix(rep.Text, "```") {
			t.Errorf("malformed report %q", rep.Text)
		}
		sawBoom = sawBoom || strings.Contains(rep.Text, "boom")
		sawPanic = sawPanic || strings.Contains(rep.Text, "kaboom")
	}
	if !sawBoom || !sawPanic {
		t.Errorf("reports missing failures: %v", reports)
	}

	// A later event is still processed.
	r.Dispatch(context.Background(), textEvent(".other"))
	r.Wait()
	if !rec.has("other") {
		t.Error("router should keep processing after failures")
	}
}

func TestRouterPermit(t *testing.T) {
	r := NewRouter(newFakeConn(), nil, nil, RouterConfig{Sudo: []string{"905551112233", " 777@s.whatsapp.net"}}, testLogger())

	tests := []struct {
		name        string
		access      Access
		fromMe      bool
		participant string
		want        bool
	}{
		{"any from other", AccessAny, false, "", true},
		{"any from me", AccessAny, true, "", true},
		{"owner from me", AccessOwner, true, "", true},
		{"owner from sudo participant", AccessOwner, false, "905551112233@s.whatsapp.net", true},
		{"owner from sudo device", AccessOwner, false, "777:3@s.whatsapp.net", true},
		{"owner from stranger", AccessOwner, false, "111@s.whatsapp.net", false},
		{"owner without participant", AccessOwner, false, "", false},
		{"public from other", AccessPublic, false, "", true},
		{"public from me", AccessPublic, true, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := &Command{Access: tt.access}
			evt := &Event{ChatID: "g@g.us", FromMe: tt.fromMe, Participant: tt.participant}
			if got := r.Permit(cmd, evt); got != tt.want {
				t.Errorf("Permit() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRouterDeniedIsSilent(t *testing.T) {
	conn := newFakeConn()
	rec := &recorder{}
	cmds := []Command{{Pattern: regexp.MustCompile(`^\.ban`), Access: AccessOwner, Handler: rec.handler("ban")}}
	r := NewRouter(conn, cmds, nil, RouterConfig{SendRead: true}, testLogger())

	evt := textEvent(".ban")
	evt.Participant = "111@s.whatsapp.net"
	r.Dispatch(context.Background(), evt)
	r.Wait()

	if rec.count() != 0 || len(conn.sent) != 0 || len(conn.reads) != 0 {
		t.Errorf("denied command left traces: calls=%v sent=%v reads=%v", rec.calls, conn.sent, conn.reads)
	}
}

func TestRouterReadAndDelete(t *testing.T) {
	conn := newFakeConn()
	rec := &recorder{}
	cmds := []Command{
		{Pattern: regexp.MustCompile(`^\.x`), DeleteCommand: true, Handler: rec.handler("x")},
		{On: MediaImage, Handler: rec.handler("img")},
	}
	r := NewRouter(conn, cmds, nil, RouterConfig{SendRead: true}, testLogger())

	// From someone else: no delete.
	r.Dispatch(context.Background(), textEvent(".x"))
	r.Wait()
	if len(conn.deletes) != 0 {
		t.Errorf("should not delete a message from another user")
	}
	if len(conn.reads) != 1 {
		t.Errorf("expected one read receipt, got %d", len(conn.reads))
	}

	// From the bot account: deleted first.
	mine := textEvent(".x")
	mine.FromMe = true
	r.Dispatch(context.Background(), mine)
	r.Wait()
	if len(conn.deletes) != 1 || conn.deletes[0].ID != "M1" {
		t.Errorf("expected trigger deletion, got %v", conn.deletes)
	}

	// Media selectors do not mark read by default.
	img := &Event{ID: "M2", ChatID: "555@s.whatsapp.net", Content: &Content{Image: &Media{Mimetype: "image/jpeg"}}}
	r.Dispatch(context.Background(), img)
	r.Wait()
	if len(conn.reads) != 2 {
		t.Errorf("image command should not mark read, reads=%d", len(conn.reads))
	}
	if !rec.has("img") {
		t.Error("image command should fire without a caption")
	}
}

func TestRouterMessageVariants(t *testing.T) {
	conn := newFakeConn()
	var (
		mu  sync.Mutex
		got = map[string]Message{}
	)
	capture := func(name string) HandlerFunc {
		return func(ctx context.Context, msg Message, match []string) error {
			mu.Lock()
			defer mu.Unlock()
			got[name] = msg
			return nil
		}
	}
	cmds := []Command{
		{On: MediaImage, Handler: capture("image")},
		{On: MediaText, Handler: capture("text")},
	}
	r := NewRouter(conn, cmds, nil, RouterConfig{}, testLogger())

	r.Dispatch(context.Background(), &Event{
		ID: "M3", ChatID: "555@s.whatsapp.net",
		Content: &Content{Image: &Media{Caption: "look", Mimetype: "image/png"}},
	})
	r.Wait()

	img, ok := got["image"].(*ImageMessage)
	if !ok {
		t.Fatalf("image command got %T", got["image"])
	}
	data, err := img.Download(context.Background())
	if err != nil || string(data) != "media:image/png" {
		t.Errorf("Download() = %q, %v", data, err)
	}
	if img.Caption() != "look" {
		t.Errorf("caption = %q", img.Caption())
	}

	text, ok := got["text"].(*TextMessage)
	if !ok {
		t.Fatalf("text command got %T", got["text"])
	}
	if text.Text() != "look" {
		t.Errorf("text = %q", text.Text())
	}
	if err := text.Reply(context.Background(), "ok"); err != nil {
		t.Fatal(err)
	}
	replies := conn.sentTo("555@s.whatsapp.net")
	if len(replies) != 1 || replies[0].Quote == nil || replies[0].Quote.ID != "M3" {
		t.Errorf("reply should quote the trigger: %+v", replies)
	}
}
