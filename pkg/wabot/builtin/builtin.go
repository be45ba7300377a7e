// Package builtin provides the commands every wabot instance ships with:
// liveness checks, help, plugin management and group greetings.
package builtin

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/jholhewres/wabot/pkg/wabot/bot"
	"github.com/jholhewres/wabot/pkg/wabot/database"
	"github.com/jholhewres/wabot/pkg/wabot/plugins"
)

// Source is the Command.Source of builtin commands.
const Source = "builtin"

// PluginStore manages plugin records.
type PluginStore interface {
	List(ctx context.Context) ([]database.PluginRecord, error)
	Add(ctx context.Context, r database.PluginRecord) error
	Remove(ctx context.Context, name string) error
}

// GreetingStore manages per-chat greetings.
type GreetingStore interface {
	Get(ctx context.Context, chatID, kind string) (*database.Greeting, error)
	Set(ctx context.Context, g database.Greeting) error
	Delete(ctx context.Context, chatID, kind string) error
}

// Installer fetches plugin files.
type Installer interface {
	Install(ctx context.Context, rec database.PluginRecord) (*plugins.Plugin, error)
	RemoveFiles(name string) (bool, error)
}

// Deps wires the builtin commands to the rest of the bot.
type Deps struct {
	Name         string
	AliveMessage string
	Started      time.Time

	Plugins   PluginStore
	Greetings GreetingStore
	Installer Installer

	// Commands returns every loaded command, for .help.
	Commands func() []bot.Command
}

// Commands returns the builtin command set.
func Commands(d *Deps) []bot.Command {
	if d.Name == "" {
		d.Name = "wabot"
	}
	if d.Started.IsZero() {
		d.Started = time.Now()
	}

	cmds := []bot.Command{
		owner(`^\.alive$`, "checks that the bot is running", ".alive", d.alive),
		owner(`^\.ping$`, "measures the response time", ".ping", d.ping),
		owner(`^\.help(?:\s+(\S+))?$`, "lists the available commands", ".help [command]", d.help),
	}
	if d.Plugins != nil && d.Installer != nil {
		cmds = append(cmds,
			owner(`^\.install(?:\s+(\S+))?$`, "installs a plugin from a url", ".install <url>", d.install),
			owner(`^\.plugins$`, "lists installed plugins", ".plugins", d.listPlugins),
			owner(`^\.remove(?:\s+(\S+))?$`, "removes an installed plugin", ".remove <name>", d.remove),
		)
	}
	if d.Greetings != nil {
		cmds = append(cmds,
			owner(`^\.welcome(?:\s+([\s\S]+))?$`, "sets the welcome message of this group", ".welcome [text|delete]", d.greeting(database.GreetingWelcome)),
			owner(`^\.goodbye(?:\s+([\s\S]+))?$`, "sets the goodbye message of this group", ".goodbye [text|delete]", d.greeting(database.GreetingGoodbye)),
		)
	}
	return cmds
}

func owner(pattern, desc, usage string, h bot.HandlerFunc) bot.Command {
	return bot.Command{
		Pattern: regexp.MustCompile(pattern),
		Access:  bot.AccessOwner,
		Desc:    desc,
		Usage:   usage,
		Source:  Source,
		Handler: h,
	}
}

func arg(match []string) string {
	if len(match) < 2 {
		return ""
	}
	return strings.TrimSpace(match[1])
}

func (d *Deps) alive(ctx context.Context, msg bot.Message, _ []string) error {
	text := d.AliveMessage
	if text == "" {
		text = fmt.Sprintf("*%s is running!*", d.Name)
	}
	uptime := time.Since(d.Started).Truncate(time.Second)
	return msg.Send(ctx, fmt.Sprintf("%s\n\n_uptime: %s_", text, uptime))
}

func (d *Deps) ping(ctx context.Context, msg bot.Message, _ []string) error {
	start := time.Now()
	if ts := msg.Event().Timestamp; !ts.IsZero() && ts.Before(start) {
		start = ts
	}
	return msg.Send(ctx, fmt.Sprintf("*Pong!*\n```%dms```", time.Since(start).Milliseconds()))
}

func (d *Deps) help(ctx context.Context, msg bot.Message, match []string) error {
	if d.Commands == nil {
		return errors.New("help is unavailable")
	}
	filter := strings.TrimPrefix(arg(match), ".")

	var b strings.Builder
	fmt.Fprintf(&b, "*%s commands*\n", d.Name)
	n := 0
	for _, c := range d.Commands() {
		if c.Usage == "" && c.Desc == "" {
			continue
		}
		usage := c.Usage
		if usage == "" && c.Pattern != nil {
			usage = c.Pattern.String()
		}
		if filter != "" && !strings.Contains(usage, filter) {
			continue
		}
		n++
		fmt.Fprintf(&b, "\n🛠️ *%s*", usage)
		if c.Desc != "" {
			fmt.Fprintf(&b, "\n💬 %s", c.Desc)
		}
		if c.Source != Source && c.Source != "" {
			fmt.Fprintf(&b, "\n🔌 %s", c.Source)
		}
		b.WriteString("\n")
	}
	if n == 0 {
		return msg.Reply(ctx, "No matching command.")
	}
	return msg.Send(ctx, strings.TrimRight(b.String(), "\n"))
}

func (d *Deps) install(ctx context.Context, msg bot.Message, match []string) error {
	rawURL := arg(match)
	if rawURL == "" {
		return msg.Reply(ctx, "Usage: .install <url>")
	}
	name := plugins.NameFromURL(rawURL)
	if !plugins.ValidName(name) {
		return msg.Reply(ctx, "Cannot derive a plugin name from that url.")
	}
	rec := database.PluginRecord{Name: name, URL: rawURL}

	p, err := d.Installer.Install(ctx, rec)
	switch {
	case errors.Is(err, database.ErrPluginExists):
		return msg.Reply(ctx, fmt.Sprintf("Plugin *%s* is already installed.", name))
	case errors.Is(err, plugins.ErrPluginFetch):
		return msg.Reply(ctx, fmt.Sprintf("Could not download *%s*.\n```%v```", name, err))
	case errors.Is(err, plugins.ErrPluginLoad):
		return msg.Reply(ctx, fmt.Sprintf("Plugin *%s* is invalid.\n```%v```", name, err))
	case err != nil:
		return err
	}

	if err := d.Plugins.Add(ctx, rec); err != nil {
		d.Installer.RemoveFiles(name)
		if errors.Is(err, database.ErrPluginExists) {
			return msg.Reply(ctx, fmt.Sprintf("Plugin *%s* is already installed.", name))
		}
		return err
	}
	return msg.Reply(ctx, fmt.Sprintf("Installed *%s* (%d commands). Restart to activate it.", p.Name, len(p.Commands)))
}

func (d *Deps) listPlugins(ctx context.Context, msg bot.Message, _ []string) error {
	records, err := d.Plugins.List(ctx)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return msg.Reply(ctx, "No plugins installed.")
	}
	sort.SliceStable(records, func(i, j int) bool { return records[i].Name < records[j].Name })

	var b strings.Builder
	b.WriteString("*Installed plugins*\n")
	for _, r := range records {
		fmt.Fprintf(&b, "\n• *%s*: %s", r.Name, r.URL)
	}
	return msg.Send(ctx, b.String())
}

func (d *Deps) remove(ctx context.Context, msg bot.Message, match []string) error {
	name := arg(match)
	if name == "" {
		return msg.Reply(ctx, "Usage: .remove <name>")
	}
	if err := d.Plugins.Remove(ctx, name); err != nil {
		if errors.Is(err, database.ErrPluginNotFound) {
			return msg.Reply(ctx, fmt.Sprintf("Plugin *%s* is not installed.", name))
		}
		return err
	}
	if _, err := d.Installer.RemoveFiles(name); err != nil {
		return err
	}
	return msg.Reply(ctx, fmt.Sprintf("Removed *%s*. Restart to apply.", name))
}

func (d *Deps) greeting(kind string) bot.HandlerFunc {
	return func(ctx context.Context, msg bot.Message, match []string) error {
		chat := msg.ChatID()
		text := arg(match)

		switch {
		case text == "":
			g, err := d.Greetings.Get(ctx, chat, kind)
			if err != nil {
				return err
			}
			if g == nil {
				return msg.Reply(ctx, fmt.Sprintf("No %s message set. Usage: .%s <text|delete>", kind, kind))
			}
			return msg.Reply(ctx, fmt.Sprintf("Current %s message:\n\n%s", kind, g.Message))
		case strings.EqualFold(text, "delete"):
			if err := d.Greetings.Delete(ctx, chat, kind); err != nil {
				return err
			}
			return msg.Reply(ctx, fmt.Sprintf("The %s message was deleted.", kind))
		default:
			if err := d.Greetings.Set(ctx, database.Greeting{ChatID: chat, Kind: kind, Message: text}); err != nil {
				return err
			}
			return msg.Reply(ctx, fmt.Sprintf("The %s message was set.", kind))
		}
	}
}
