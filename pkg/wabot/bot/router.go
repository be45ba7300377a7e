package bot

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/jholhewres/wabot/pkg/wabot/textutil"
)

// ReportHeader opens the error report sent to the bot's own chat.
const ReportHeader = "*-- ERROR REPORT [WABOT] --*"

// RouterConfig holds the dispatch policy.
type RouterConfig struct {
	// Sudo lists delegate user ids allowed to run owner commands.
	Sudo []string

	// SendRead marks chats read before running commands that ask for it.
	SendRead bool

	// NoOnline sends "unavailable" presence on every processed event.
	NoOnline bool
}

// Router dispatches inbound events to every matching command.
type Router struct {
	conn      Conn
	commands  []Command
	greetings Greetings
	sudo      map[string]struct{}
	cfg       RouterConfig
	logger    *slog.Logger

	wg sync.WaitGroup
}

// NewRouter creates a router over commands in load order. greetings may be
// nil, in which case stub events are ignored.
func NewRouter(conn Conn, commands []Command, greetings Greetings, cfg RouterConfig, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	sudo := make(map[string]struct{}, len(cfg.Sudo))
	for _, id := range cfg.Sudo {
		if id = textutil.UserPart(strings.TrimSpace(id)); id != "" {
			sudo[id] = struct{}{}
		}
	}
	return &Router{
		conn:      conn,
		commands:  commands,
		greetings: greetings,
		sudo:      sudo,
		cfg:       cfg,
		logger:    logger.With("component", "router"),
	}
}

// Commands returns the loaded commands.
func (r *Router) Commands() []Command { return r.commands }

// Dispatch processes one event. Handlers run in their own goroutines and
// their failures never reach the caller.
func (r *Router) Dispatch(ctx context.Context, evt *Event) {
	cl := Classify(evt)
	if cl.Drop {
		return
	}

	if r.cfg.NoOnline {
		if err := r.conn.SendPresence(ctx, evt.ChatID, PresenceUnavailable); err != nil {
			r.logger.Warn("router: presence update failed", "chat", evt.ChatID, "error", err)
		}
	}

	if cl.Stub != StubNone {
		r.greet(ctx, evt.ChatID, cl.Stub)
		return
	}

	// Handlers outlive the event delivery and are never cancelled.
	hctx := context.WithoutCancel(ctx)

	for i := range r.commands {
		cmd := &r.commands[i]
		ok, match := cl.Match(cmd)
		if !ok || !r.Permit(cmd, evt) {
			continue
		}

		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.run(hctx, cmd, evt, cl, match)
		}()
	}
}

// Wait blocks until every running handler has returned.
func (r *Router) Wait() {
	r.wg.Wait()
}

// Permit applies the ownership policy to evt.
func (r *Router) Permit(cmd *Command, evt *Event) bool {
	switch cmd.Access {
	case AccessOwner:
		if evt.FromMe {
			return true
		}
		if evt.Participant == "" {
			return false
		}
		_, ok := r.sudo[textutil.UserPart(evt.Participant)]
		return ok
	default:
		return true
	}
}

func (r *Router) greet(ctx context.Context, chatID string, kind StubKind) {
	if r.greetings == nil {
		return
	}
	text, ok, err := r.greetings.Greeting(ctx, chatID, string(kind))
	if err != nil {
		r.logger.Error("router: greeting lookup failed", "chat", chatID, "kind", kind, "error", err)
		return
	}
	if !ok {
		return
	}
	if _, err := r.conn.Send(ctx, chatID, Outgoing{Text: text}); err != nil {
		r.logger.Error("router: greeting send failed", "chat", chatID, "kind", kind, "error", err)
	}
}

func (r *Router) run(ctx context.Context, cmd *Command, evt *Event, cl Classification, match []string) {
	if r.cfg.SendRead && cmd.MarksRead() {
		if err := r.conn.MarkRead(ctx, evt.Key()); err != nil {
			r.logger.Warn("router: mark read failed", "chat", evt.ChatID, "error", err)
		}
	}

	msg := NewMessage(r.conn, evt, cl.Text, cmd.On)

	if cmd.DeleteCommand && evt.FromMe {
		if err := msg.Delete(ctx); err != nil {
			r.logger.Warn("router: delete trigger failed", "chat", evt.ChatID, "id", evt.ID, "error", err)
		}
	}

	if err := invoke(ctx, cmd, msg, match); err != nil {
		r.report(ctx, cmd, err)
	}
}

// invoke runs the handler, converting a panic into an ErrHandler error.
func invoke(ctx context.Context, cmd *Command, msg Message, match []string) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %v", ErrHandler, rec)
			slog.Debug("router: handler panic", "stack", string(debug.Stack()))
		}
	}()
	if cmd.Handler == nil {
		return nil
	}
	return cmd.Handler(ctx, msg, match)
}

func (r *Router) report(ctx context.Context, cmd *Command, err error) {
	r.logger.Debug("router: handler failed", "source", cmd.Source, "error", err)

	text := FormatReport(err)
	if _, sendErr := r.conn.Send(ctx, r.conn.SelfID(), Outgoing{Text: text}); sendErr != nil {
		r.logger.Error("router: error report failed", "error", sendErr, "handler_error", err)
	}
}

// FormatReport renders the self-chat error report for err.
func FormatReport(err error) string {
	return ReportHeader + "\n```" + err.Error() + "```"
}
