package bot

import (
	"context"
	"errors"
)

// ErrNoMedia is returned when downloading from a message without media.
var ErrNoMedia = errors.New("message has no media")

// Message is the handle a command handler receives. The concrete type is
// *TextMessage, *ImageMessage or *VideoMessage depending on the command's
// media selector.
type Message interface {
	Event() *Event
	Conn() Conn

	ChatID() string
	// Sender is the participant in groups and the chat id otherwise.
	Sender() string
	FromMe() bool
	Text() string

	Reply(ctx context.Context, text string) error
	Send(ctx context.Context, text string) error
	React(ctx context.Context, emoji string) error
	Delete(ctx context.Context) error
}

// TextMessage is the plain message handle.
type TextMessage struct {
	conn Conn
	evt  *Event
	text string
}

// NewMessage builds the handle matching kind. Image and video handles are
// built only when the event carries that media.
func NewMessage(conn Conn, evt *Event, text string, kind MediaKind) Message {
	base := &TextMessage{conn: conn, evt: evt, text: text}
	switch {
	case kind == MediaImage && evt.Content != nil && evt.Content.Image != nil:
		return &ImageMessage{TextMessage: base, media: evt.Content.Image}
	case kind == MediaVideo && evt.Content != nil && evt.Content.Video != nil:
		return &VideoMessage{TextMessage: base, media: evt.Content.Video}
	}
	return base
}

func (m *TextMessage) Event() *Event  { return m.evt }
func (m *TextMessage) Conn() Conn     { return m.conn }
func (m *TextMessage) ChatID() string { return m.evt.ChatID }
func (m *TextMessage) FromMe() bool   { return m.evt.FromMe }
func (m *TextMessage) Text() string   { return m.text }

func (m *TextMessage) Sender() string {
	if m.evt.Participant != "" {
		return m.evt.Participant
	}
	if m.evt.FromMe {
		return m.conn.SelfID()
	}
	return m.evt.ChatID
}

// Reply sends text quoting the triggering message.
func (m *TextMessage) Reply(ctx context.Context, text string) error {
	_, err := m.conn.Send(ctx, m.evt.ChatID, Outgoing{Text: text, Quote: m.evt})
	return err
}

// Send sends text to the chat without quoting.
func (m *TextMessage) Send(ctx context.Context, text string) error {
	_, err := m.conn.Send(ctx, m.evt.ChatID, Outgoing{Text: text})
	return err
}

// SendMedia sends an attachment to the chat.
func (m *TextMessage) SendMedia(ctx context.Context, media OutgoingMedia, caption string) error {
	_, err := m.conn.Send(ctx, m.evt.ChatID, Outgoing{Text: caption, Media: &media})
	return err
}

func (m *TextMessage) React(ctx context.Context, emoji string) error {
	return m.conn.React(ctx, m.evt.Key(), emoji)
}

// Delete revokes the triggering message.
func (m *TextMessage) Delete(ctx context.Context) error {
	return m.conn.Delete(ctx, m.evt.Key())
}

// ImageMessage is the handle for image-triggered commands.
type ImageMessage struct {
	*TextMessage
	media *Media
}

func (m *ImageMessage) Caption() string  { return m.media.Caption }
func (m *ImageMessage) Mimetype() string { return m.media.Mimetype }

// Download fetches and decrypts the image.
func (m *ImageMessage) Download(ctx context.Context) ([]byte, error) {
	return download(ctx, m.conn, m.media)
}

// VideoMessage is the handle for video-triggered commands.
type VideoMessage struct {
	*TextMessage
	media *Media
}

func (m *VideoMessage) Caption() string  { return m.media.Caption }
func (m *VideoMessage) Mimetype() string { return m.media.Mimetype }

// Download fetches and decrypts the video.
func (m *VideoMessage) Download(ctx context.Context) ([]byte, error) {
	return download(ctx, m.conn, m.media)
}

func download(ctx context.Context, conn Conn, media *Media) ([]byte, error) {
	if media == nil {
		return nil, ErrNoMedia
	}
	return conn.Download(ctx, media)
}
