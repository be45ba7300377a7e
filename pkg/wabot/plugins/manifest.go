package plugins

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jholhewres/wabot/pkg/wabot/bot"
	"github.com/jholhewres/wabot/pkg/wabot/scheduler"
	"github.com/jholhewres/wabot/pkg/wabot/textutil"
)

// maxExecOutput caps the reply produced by exec actions.
const maxExecOutput = 4000

// Manifest is the YAML plugin format.
type Manifest struct {
	Name      string             `yaml:"name"`
	Commands  []ManifestCommand  `yaml:"commands"`
	Schedules []ManifestSchedule `yaml:"schedules"`
}

// ManifestCommand declares one command. Exactly one of Reply, Send, React
// or Exec must be set.
type ManifestCommand struct {
	Pattern       string `yaml:"pattern"`
	On            string `yaml:"on"`
	FromMe        *bool  `yaml:"from_me"`
	DeleteCommand bool   `yaml:"delete_command"`
	MarkRead      *bool  `yaml:"mark_read"`
	Desc          string `yaml:"desc"`
	Usage         string `yaml:"usage"`

	Reply *string  `yaml:"reply"`
	Send  *string  `yaml:"send"`
	React *string  `yaml:"react"`
	Exec  []string `yaml:"exec"`
}

// ManifestSchedule declares a recurring announcement.
type ManifestSchedule struct {
	ID   string `yaml:"id"`
	Cron string `yaml:"cron"`
	Chat string `yaml:"chat"`
	Text string `yaml:"text"`
}

// ManifestLoader loads YAML manifests.
type ManifestLoader struct {
	// AllowExec permits exec actions; manifests using them fail to load
	// otherwise.
	AllowExec bool

	// ExecTimeout bounds exec actions (default: 30s).
	ExecTimeout time.Duration
}

func (l *ManifestLoader) Extensions() []string { return []string{".yaml", ".yml"} }

// Load reads and validates the manifest at path.
func (l *ManifestLoader) Load(path string) (*Plugin, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, loadError(path, err)
	}
	p, err := l.Parse(data, baseName(path))
	if err != nil {
		return nil, loadError(path, err)
	}
	p.Path = path
	return p, nil
}

// Parse builds a plugin from manifest bytes. fallbackName is used when the
// manifest has no name.
func (l *ManifestLoader) Parse(data []byte, fallbackName string) (*Plugin, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	if m.Name == "" {
		m.Name = fallbackName
	}
	if len(m.Commands) == 0 && len(m.Schedules) == 0 {
		return nil, errors.New("manifest declares no commands or schedules")
	}

	p := &Plugin{Name: m.Name}
	for i, mc := range m.Commands {
		cmd, err := l.command(m.Name, mc)
		if err != nil {
			return nil, fmt.Errorf("command %d: %w", i+1, err)
		}
		p.Commands = append(p.Commands, cmd)
	}
	for i, ms := range m.Schedules {
		if ms.ID == "" || ms.Chat == "" || ms.Text == "" {
			return nil, fmt.Errorf("schedule %d: id, chat and text are required", i+1)
		}
		if err := scheduler.Validate(ms.Cron); err != nil {
			return nil, fmt.Errorf("schedule %s: %w", ms.ID, err)
		}
		p.Schedules = append(p.Schedules, Schedule{
			ID:     m.Name + "/" + ms.ID,
			Cron:   ms.Cron,
			ChatID: ms.Chat,
			Text:   ms.Text,
			Source: m.Name,
		})
	}
	return p, nil
}

func (l *ManifestLoader) command(source string, mc ManifestCommand) (bot.Command, error) {
	cmd := bot.Command{
		Access:        bot.AccessFromFlag(mc.FromMe),
		DeleteCommand: mc.DeleteCommand,
		MarkRead:      mc.MarkRead,
		Desc:          mc.Desc,
		Usage:         mc.Usage,
		Source:        source,
	}

	if mc.Pattern == "" && mc.On == "" {
		return cmd, errors.New("pattern or on is required")
	}
	if mc.Pattern != "" {
		re, err := regexp.Compile(mc.Pattern)
		if err != nil {
			return cmd, fmt.Errorf("invalid pattern: %w", err)
		}
		cmd.Pattern = re
	}
	if mc.On != "" {
		kind, ok := bot.ParseMediaKind(mc.On)
		if !ok {
			return cmd, fmt.Errorf("unknown media kind %q", mc.On)
		}
		cmd.On = kind
	}

	actions := 0
	for _, set := range []bool{mc.Reply != nil, mc.Send != nil, mc.React != nil, len(mc.Exec) > 0} {
		if set {
			actions++
		}
	}
	if actions != 1 {
		return cmd, errors.New("exactly one of reply, send, react or exec is required")
	}

	switch {
	case mc.Reply != nil:
		tpl := *mc.Reply
		cmd.Handler = func(ctx context.Context, msg bot.Message, match []string) error {
			return msg.Reply(ctx, textutil.Format(tpl, groups(match)...))
		}
	case mc.Send != nil:
		tpl := *mc.Send
		cmd.Handler = func(ctx context.Context, msg bot.Message, match []string) error {
			return msg.Send(ctx, textutil.Format(tpl, groups(match)...))
		}
	case mc.React != nil:
		emoji := *mc.React
		cmd.Handler = func(ctx context.Context, msg bot.Message, match []string) error {
			return msg.React(ctx, emoji)
		}
	default:
		if !l.AllowExec {
			return cmd, errors.New("exec actions are disabled (plugins.allow_exec)")
		}
		cmd.Handler = l.execHandler(mc.Exec)
	}
	return cmd, nil
}

func (l *ManifestLoader) execHandler(argv []string) bot.HandlerFunc {
	timeout := l.ExecTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return func(ctx context.Context, msg bot.Message, match []string) error {
		args := make([]string, len(argv))
		for i, a := range argv {
			args[i] = textutil.Format(a, groups(match)...)
		}

		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		out, err := exec.CommandContext(ctx, args[0], args[1:]...).CombinedOutput()
		if err != nil {
			return fmt.Errorf("exec %s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
		}
		text := strings.TrimSpace(string(out))
		if len(text) > maxExecOutput {
			text = text[:maxExecOutput] + "…"
		}
		if text == "" {
			text = "(no output)"
		}
		return msg.Reply(ctx, "```"+text+"```")
	}
}

// groups returns the capture groups of a pattern match, empty groups
// included, so placeholders stay aligned.
func groups(match []string) []string {
	if len(match) < 2 {
		return nil
	}
	return match[1:]
}

func baseName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}
