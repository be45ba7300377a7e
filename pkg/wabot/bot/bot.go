// Package bot defines command descriptors, inbound events and the router
// that dispatches events to matching commands. It has no knowledge of the
// underlying WhatsApp client; the connection is reached through Conn.
package bot

import (
	"context"
	"errors"
	"regexp"
	"time"
)

// StatusBroadcast is the chat id WhatsApp uses for status updates.
const StatusBroadcast = "status@broadcast"

// ErrHandler wraps failures recovered from a command handler panic.
var ErrHandler = errors.New("command handler failed")

// MediaKind selects the content a command reacts to.
type MediaKind string

const (
	MediaNone  MediaKind = ""
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
	MediaText  MediaKind = "text"
)

// ParseMediaKind validates a kind name from a plugin manifest.
func ParseMediaKind(s string) (MediaKind, bool) {
	switch k := MediaKind(s); k {
	case MediaImage, MediaVideo, MediaText:
		return k, true
	}
	return MediaNone, false
}

// Access is the ownership requirement of a command.
type Access int

const (
	// AccessAny permits every sender.
	AccessAny Access = iota

	// AccessOwner permits the bot account and the sudo delegates.
	AccessOwner

	// AccessPublic permits every sender. Kept distinct from AccessAny
	// because manifests spell it out as from_me: false.
	AccessPublic
)

// AccessFromFlag maps the optional from_me flag of a manifest.
func AccessFromFlag(fromMe *bool) Access {
	switch {
	case fromMe == nil:
		return AccessAny
	case *fromMe:
		return AccessOwner
	default:
		return AccessPublic
	}
}

// HandlerFunc handles one matching message. match holds the pattern
// submatches and is nil for media-triggered commands.
type HandlerFunc func(ctx context.Context, msg Message, match []string) error

// Command describes one installable behavior. Commands are built once at
// load time and never mutated afterwards.
type Command struct {
	Pattern *regexp.Regexp
	On      MediaKind
	Access  Access

	// DeleteCommand deletes the triggering message first when the bot
	// account sent it.
	DeleteCommand bool

	// MarkRead overrides the default read policy (true for text triggers
	// without a media selector).
	MarkRead *bool

	Desc    string
	Usage   string
	Source  string
	Handler HandlerFunc
}

// MarksRead reports whether the chat should be marked read before the
// handler runs.
func (c *Command) MarksRead() bool {
	if c.MarkRead != nil {
		return *c.MarkRead
	}
	return c.On == MediaNone
}

// Media is an image or video attachment.
type Media struct {
	Caption  string
	Mimetype string
	Length   uint64

	// Raw is the client specific message used to download the file.
	Raw any
}

// Content is the payload of an inbound message.
type Content struct {
	Conversation string
	ExtendedText *string
	Image        *Media
	Video        *Media
}

// Event is one inbound message notification.
type Event struct {
	ID     string
	ChatID string
	FromMe bool

	// Participant is the sender inside a group; empty for direct chats.
	Participant string

	StubType  int
	Content   *Content
	PushName  string
	Timestamp time.Time

	// Raw is the client specific event, used for quoting.
	Raw any
}

// Key identifies the message for read receipts, reactions and deletes.
func (e *Event) Key() MessageKey {
	return MessageKey{ChatID: e.ChatID, ID: e.ID, FromMe: e.FromMe, Participant: e.Participant}
}

// MessageKey addresses a single message.
type MessageKey struct {
	ChatID      string
	ID          string
	FromMe      bool
	Participant string
}

// OutgoingMedia is an attachment to upload.
type OutgoingMedia struct {
	Kind     MediaKind
	Data     []byte
	Mimetype string
}

// Outgoing is a message to send.
type Outgoing struct {
	Text  string
	Media *OutgoingMedia

	// Quote, when set, sends the message as a reply.
	Quote *Event
}

// Presence states.
type Presence string

const (
	PresenceAvailable   Presence = "available"
	PresenceUnavailable Presence = "unavailable"
)

// Conn is the connection collaborator used by the router and handlers.
type Conn interface {
	// SelfID is the bot account's own chat id, the destination of
	// error reports.
	SelfID() string

	Send(ctx context.Context, chatID string, msg Outgoing) (string, error)
	React(ctx context.Context, key MessageKey, emoji string) error
	Delete(ctx context.Context, key MessageKey) error
	MarkRead(ctx context.Context, key MessageKey) error
	SendPresence(ctx context.Context, chatID string, state Presence) error
	Download(ctx context.Context, media *Media) ([]byte, error)
}

// Greetings looks up the text sent on member join or leave.
type Greetings interface {
	Greeting(ctx context.Context, chatID, kind string) (string, bool, error)
}
