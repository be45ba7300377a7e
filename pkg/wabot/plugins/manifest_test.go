package plugins

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/jholhewres/wabot/pkg/wabot/bot"
)

// fakeMessage records handler output.
type fakeMessage struct {
	bot.Message

	mu      sync.Mutex
	replies []string
	sends   []string
	reacts  []string
}

func (m *fakeMessage) Reply(ctx context.Context, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append(m.replies, text)
	return nil
}

func (m *fakeMessage) Send(ctx context.Context, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sends = append(m.sends, text)
	return nil
}

func (m *fakeMessage) React(ctx context.Context, emoji string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reacts = append(m.reacts, emoji)
	return nil
}

const greetManifest = `
name: greet
commands:
  - pattern: '^\.hi(?:\s+(.*))?$'
    desc: say hi
    usage: .hi <name>
    reply: "hi {}!"
  - pattern: '^\.shout (\w+) (\w+)$'
    from_me: true
    delete_command: true
    mark_read: false
    send: "{} and {}"
  - on: image
    from_me: false
    react: "👀"
schedules:
  - id: morning
    cron: "0 9 * * *"
    chat: "123@g.us"
    text: "good morning"
`

func TestManifestParse(t *testing.T) {
	l := &ManifestLoader{}
	p, err := l.Parse([]byte(greetManifest), "fallback")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if p.Name != "greet" {
		t.Errorf("name = %q", p.Name)
	}
	if len(p.Commands) != 3 {
		t.Fatalf("expected 3 commands, got %d", len(p.Commands))
	}

	hi, shout, img := p.Commands[0], p.Commands[1], p.Commands[2]
	if hi.Access != bot.AccessAny || hi.Desc != "say hi" || hi.Usage != ".hi <name>" || hi.Source != "greet" {
		t.Errorf("unexpected hi command %+v", hi)
	}
	if shout.Access != bot.AccessOwner || !shout.DeleteCommand || shout.MarksRead() {
		t.Errorf("unexpected shout command %+v", shout)
	}
	if img.On != bot.MediaImage || img.Access != bot.AccessPublic || img.Pattern != nil {
		t.Errorf("unexpected image command %+v", img)
	}

	ctx := context.Background()
	msg := &fakeMessage{}

	match := hi.Pattern.FindStringSubmatch(".hi bob")
	if err := hi.Handler(ctx, msg, match); err != nil {
		t.Fatal(err)
	}
	match = shout.Pattern.FindStringSubmatch(".shout a b")
	if err := shout.Handler(ctx, msg, match); err != nil {
		t.Fatal(err)
	}
	if err := img.Handler(ctx, msg, nil); err != nil {
		t.Fatal(err)
	}

	if len(msg.replies) != 1 || msg.replies[0] != "hi bob!" {
		t.Errorf("replies = %q", msg.replies)
	}
	if len(msg.sends) != 1 || msg.sends[0] != "a and b" {
		t.Errorf("sends = %q", msg.sends)
	}
	if len(msg.reacts) != 1 || msg.reacts[0] != "👀" {
		t.Errorf("reacts = %q", msg.reacts)
	}

	// Missing optional group leaves the placeholder empty.
	msg = &fakeMessage{}
	hi.Handler(ctx, msg, hi.Pattern.FindStringSubmatch(".hi"))
	if msg.replies[0] != "hi !" {
		t.Errorf("reply = %q", msg.replies[0])
	}

	if len(p.Schedules) != 1 {
		t.Fatalf("expected 1 schedule, got %d", len(p.Schedules))
	}
	s := p.Schedules[0]
	if s.ID != "greet/morning" || s.Cron != "0 9 * * *" || s.ChatID != "123@g.us" || s.Text != "good morning" {
		t.Errorf("unexpected schedule %+v", s)
	}
}

func TestManifestParseErrors(t *testing.T) {
	tests := map[string]string{
		"bad yaml":         "commands: [",
		"empty":            "name: x\n",
		"no trigger":       "commands:\n  - reply: hi\n",
		"bad pattern":      "commands:\n  - pattern: '(['\n    reply: hi\n",
		"bad media":        "commands:\n  - on: audio\n    reply: hi\n",
		"no action":        "commands:\n  - pattern: x\n",
		"two actions":      "commands:\n  - pattern: x\n    reply: a\n    send: b\n",
		"exec disabled":    "commands:\n  - pattern: x\n    exec: [uptime]\n",
		"bad cron":         "schedules:\n  - id: a\n    cron: nope\n    chat: c\n    text: t\n",
		"incomplete sched": "schedules:\n  - id: a\n    cron: '@daily'\n",
	}
	l := &ManifestLoader{}
	for name, src := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := l.Parse([]byte(src), "x"); err == nil {
				t.Errorf("expected error for %s", name)
			}
		})
	}
}

func TestManifestFallbackName(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tools.yml")
	if err := os.WriteFile(path, []byte("commands:\n  - on: text\n    react: ok\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := (&ManifestLoader{}).Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != "tools" || p.Path != path || p.Commands[0].Source != "tools" {
		t.Errorf("unexpected plugin %+v", p)
	}
}

func TestManifestExec(t *testing.T) {
	if _, err := os.Stat("/bin/echo"); err != nil {
		t.Skip("no /bin/echo")
	}
	src := "commands:\n  - pattern: '^\\.echo (.*)$'\n    exec: ['/bin/echo', '{}']\n"
	p, err := (&ManifestLoader{AllowExec: true}).Parse([]byte(src), "sh")
	if err != nil {
		t.Fatal(err)
	}

	cmd := p.Commands[0]
	msg := &fakeMessage{}
	if err := cmd.Handler(context.Background(), msg, cmd.Pattern.FindStringSubmatch(".echo hello")); err != nil {
		t.Fatal(err)
	}
	if len(msg.replies) != 1 || !strings.Contains(msg.replies[0], "hello") {
		t.Errorf("replies = %q", msg.replies)
	}
}
