package whatsapp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jholhewres/wabot/pkg/wabot/bot"

	"go.mau.fi/whatsmeow"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
)

// Send delivers a text or media message and returns its id.
func (w *WhatsApp) Send(ctx context.Context, chatID string, msg bot.Outgoing) (string, error) {
	if !w.connected.Load() {
		return "", ErrDisconnected
	}
	jid, err := parseJID(chatID)
	if err != nil {
		return "", fmt.Errorf("invalid JID %q: %w", chatID, err)
	}

	var waMsg *waE2E.Message
	if msg.Media != nil {
		waMsg, err = w.buildMediaMessage(ctx, msg.Media, msg.Text, quoteContext(msg.Quote))
		if err != nil {
			return "", fmt.Errorf("building media message: %w", err)
		}
	} else {
		waMsg = buildTextMessage(msg.Text, quoteContext(msg.Quote))
	}

	resp, err := w.client.SendMessage(ctx, jid, waMsg)
	if err != nil {
		return "", fmt.Errorf("sending message: %w", err)
	}
	return string(resp.ID), nil
}

// React sends an emoji reaction. An empty emoji removes the reaction.
func (w *WhatsApp) React(ctx context.Context, key bot.MessageKey, emoji string) error {
	if !w.connected.Load() {
		return ErrDisconnected
	}
	chat, sender, err := w.keyJIDs(key)
	if err != nil {
		return err
	}
	_, err = w.client.SendMessage(ctx, chat, w.client.BuildReaction(chat, sender, types.MessageID(key.ID), emoji))
	if err != nil {
		return fmt.Errorf("sending reaction: %w", err)
	}
	return nil
}

// Delete revokes a message for everyone.
func (w *WhatsApp) Delete(ctx context.Context, key bot.MessageKey) error {
	if !w.connected.Load() {
		return ErrDisconnected
	}
	chat, sender, err := w.keyJIDs(key)
	if err != nil {
		return err
	}
	_, err = w.client.SendMessage(ctx, chat, w.client.BuildRevoke(chat, sender, types.MessageID(key.ID)))
	if err != nil {
		return fmt.Errorf("revoking message: %w", err)
	}
	return nil
}

// MarkRead sends a read receipt for one message.
func (w *WhatsApp) MarkRead(ctx context.Context, key bot.MessageKey) error {
	if !w.connected.Load() {
		return nil
	}
	chat, sender, err := w.keyJIDs(key)
	if err != nil {
		return err
	}
	return w.client.MarkRead(ctx, []types.MessageID{types.MessageID(key.ID)}, time.Now(), chat, sender)
}

// SendPresence updates the account presence. WhatsApp has no per-chat
// offline state, so the chat id only matters for logging.
func (w *WhatsApp) SendPresence(ctx context.Context, chatID string, state bot.Presence) error {
	if !w.connected.Load() {
		return nil
	}
	w.logger.Debug("whatsapp: presence update", "chat", chatID, "state", state)
	if state == bot.PresenceAvailable {
		return w.client.SendPresence(ctx, types.PresenceAvailable)
	}
	return w.client.SendPresence(ctx, types.PresenceUnavailable)
}

// Download fetches and decrypts an inbound attachment.
func (w *WhatsApp) Download(ctx context.Context, media *bot.Media) ([]byte, error) {
	if media == nil {
		return nil, bot.ErrNoMedia
	}
	d, ok := media.Raw.(whatsmeow.DownloadableMessage)
	if !ok {
		return nil, fmt.Errorf("attachment is not downloadable: %T", media.Raw)
	}
	data, err := w.client.Download(ctx, d)
	if err != nil {
		return nil, fmt.Errorf("downloading media: %w", err)
	}
	return data, nil
}

// keyJIDs resolves the chat and the author of a keyed message. The author
// is the bot account for own messages, the participant in groups and the
// chat itself otherwise.
func (w *WhatsApp) keyJIDs(key bot.MessageKey) (chat, sender types.JID, err error) {
	chat, err = parseJID(key.ChatID)
	if err != nil {
		return chat, sender, fmt.Errorf("invalid JID %q: %w", key.ChatID, err)
	}
	switch {
	case key.FromMe && w.client.Store.ID != nil:
		sender = w.client.Store.ID.ToNonAD()
	case key.Participant != "":
		sender, err = parseJID(key.Participant)
		if err != nil {
			return chat, sender, fmt.Errorf("invalid participant %q: %w", key.Participant, err)
		}
	default:
		sender = chat
	}
	return chat, sender, nil
}

func buildTextMessage(text string, quote *waE2E.ContextInfo) *waE2E.Message {
	if quote == nil {
		return &waE2E.Message{Conversation: proto.String(text)}
	}
	return &waE2E.Message{
		ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			Text:        proto.String(text),
			ContextInfo: quote,
		},
	}
}

func (w *WhatsApp) buildMediaMessage(ctx context.Context, media *bot.OutgoingMedia, caption string, quote *waE2E.ContextInfo) (*waE2E.Message, error) {
	var mediaType whatsmeow.MediaType
	switch media.Kind {
	case bot.MediaImage:
		mediaType = whatsmeow.MediaImage
	case bot.MediaVideo:
		mediaType = whatsmeow.MediaVideo
	default:
		return nil, fmt.Errorf("unsupported media kind %q", media.Kind)
	}

	up, err := w.client.Upload(ctx, media.Data, mediaType)
	if err != nil {
		return nil, fmt.Errorf("uploading: %w", err)
	}

	mimetype := media.Mimetype
	if mimetype == "" {
		mimetype = defaultMimetype(media.Kind)
	}

	if media.Kind == bot.MediaVideo {
		return &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			Caption:       optionalString(caption),
			Mimetype:      proto.String(mimetype),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
			ContextInfo:   quote,
		}}, nil
	}
	return &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
		Caption:       optionalString(caption),
		Mimetype:      proto.String(mimetype),
		URL:           proto.String(up.URL),
		DirectPath:    proto.String(up.DirectPath),
		MediaKey:      up.MediaKey,
		FileEncSHA256: up.FileEncSHA256,
		FileSHA256:    up.FileSHA256,
		FileLength:    proto.Uint64(up.FileLength),
		ContextInfo:   quote,
	}}, nil
}

// quoteContext builds the reply context for an inbound whatsmeow message.
// Events from other sources cannot be quoted and yield nil.
func quoteContext(quote *bot.Event) *waE2E.ContextInfo {
	if quote == nil {
		return nil
	}
	raw, ok := quote.Raw.(*events.Message)
	if !ok || raw.Message == nil {
		return nil
	}
	return &waE2E.ContextInfo{
		StanzaID:      proto.String(string(raw.Info.ID)),
		Participant:   proto.String(raw.Info.Sender.ToNonAD().String()),
		QuotedMessage: raw.Message,
	}
}

func defaultMimetype(kind bot.MediaKind) string {
	if kind == bot.MediaVideo {
		return "video/mp4"
	}
	return "image/jpeg"
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return proto.String(s)
}

// parseJID converts a string JID to types.JID.
// Accepts "5511999999999", "5511999999999@s.whatsapp.net" or group ids
// like "123456789-1234@g.us".
func parseJID(s string) (types.JID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return types.JID{}, fmt.Errorf("empty JID")
	}
	if strings.Contains(s, "@") {
		return types.ParseJID(s)
	}

	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
	if len(digits) < 10 {
		return types.JID{}, fmt.Errorf("phone number too short: %s", s)
	}
	return types.NewJID(digits, types.DefaultUserServer), nil
}
