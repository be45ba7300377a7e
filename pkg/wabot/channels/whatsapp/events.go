package whatsapp

import (
	"context"
	"errors"
	"strconv"

	"github.com/jholhewres/wabot/pkg/wabot/bot"

	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// handleEvent is the whatsmeow event dispatcher. whatsmeow calls it serially.
func (w *WhatsApp) handleEvent(rawEvt any) {
	switch evt := rawEvt.(type) {
	case *events.Message:
		w.emit(w.translateMessage(evt))

	case *events.GroupInfo:
		if e := translateGroupInfo(evt); e != nil {
			w.emit(e)
		}

	case *events.Connected:
		w.connected.Store(true)
		w.logger.Info("whatsapp: connected", "jid", w.SelfID(), "platform", w.client.Store.Platform)
		w.connectionUpdate(ConnectionUpdate{State: StateOpen})
		w.persistCredentials()

	case *events.PairSuccess:
		w.logger.Info("whatsapp: device paired",
			"jid", evt.ID,
			"platform", evt.Platform,
			"business", evt.BusinessName)
		w.persistCredentials()

	case *events.PushNameSetting:
		w.persistCredentials()

	case *events.Disconnected:
		w.connected.Store(false)
		w.connectionUpdate(ConnectionUpdate{State: StateClose, Reason: "disconnected"})

	case *events.StreamReplaced:
		w.connected.Store(false)
		w.connectionUpdate(ConnectionUpdate{State: StateClose, Reason: "stream replaced"})

	case *events.LoggedOut:
		w.connected.Store(false)
		w.connectionUpdate(ConnectionUpdate{
			State:      StateClose,
			StatusCode: int(evt.Reason),
			Reason:     evt.Reason.String(),
		})

	case *events.ConnectFailure:
		w.connected.Store(false)
		w.connectionUpdate(ConnectionUpdate{
			State:      StateClose,
			StatusCode: int(evt.Reason),
			Reason:     evt.Message,
		})

	case *events.StreamError:
		code, _ := strconv.Atoi(evt.Code)
		w.connectionUpdate(ConnectionUpdate{State: StateClose, StatusCode: code, Reason: "stream error"})
	}
}

func (w *WhatsApp) emit(evt *bot.Event) {
	w.mu.RLock()
	fn := w.onEvent
	w.mu.RUnlock()
	if fn == nil {
		return
	}
	fn(w.ctx, evt)
}

func (w *WhatsApp) connectionUpdate(u ConnectionUpdate) {
	if w.lifecycle != nil {
		w.lifecycle.OnConnection(u)
	}
}

// persistCredentials snapshots the device and hands it to the lifecycle.
func (w *WhatsApp) persistCredentials() {
	if w.lifecycle == nil || w.client == nil {
		return
	}
	blob, err := SnapshotDevice(w.client.Store, w.browserID)
	if errors.Is(err, ErrNotPaired) {
		return
	}
	if err != nil {
		w.logger.Warn("whatsapp: snapshot of credentials failed", "error", err)
		return
	}
	_ = w.lifecycle.OnCredentials(w.ctx, blob)
}

// translateMessage converts a whatsmeow message into a bot event. Group
// senders in LID form are resolved to their phone JID when the store knows
// the mapping, so delegate lists can be written with phone numbers.
func (w *WhatsApp) translateMessage(evt *events.Message) *bot.Event {
	info := evt.Info
	e := &bot.Event{
		ID:        string(info.ID),
		ChatID:    info.Chat.String(),
		FromMe:    info.IsFromMe,
		PushName:  info.PushName,
		Timestamp: info.Timestamp,
		Content:   extractContent(evt.Message),
		Raw:       evt,
	}
	if info.IsGroup {
		e.Participant = w.resolveSender(info.Sender).String()
	}
	return e
}

func (w *WhatsApp) resolveSender(jid types.JID) types.JID {
	jid = jid.ToNonAD()
	if jid.Server != types.HiddenUserServer || w.client == nil || w.client.Store == nil {
		return jid
	}
	ctx := w.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if alt, err := w.client.Store.GetAltJID(ctx, jid); err == nil && !alt.IsEmpty() {
		w.logger.Debug("whatsapp: resolved LID to phone", "lid", jid.String(), "phone", alt.String())
		return alt
	}
	return jid
}

// extractContent maps the message kinds commands can react to. Other kinds
// produce an empty, non-nil content.
func extractContent(msg *waE2E.Message) *bot.Content {
	if msg == nil {
		return nil
	}
	c := &bot.Content{Conversation: msg.GetConversation()}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		text := ext.GetText()
		c.ExtendedText = &text
	}
	if img := msg.GetImageMessage(); img != nil {
		c.Image = &bot.Media{
			Caption:  img.GetCaption(),
			Mimetype: img.GetMimetype(),
			Length:   img.GetFileLength(),
			Raw:      img,
		}
	}
	if vid := msg.GetVideoMessage(); vid != nil {
		c.Video = &bot.Media{
			Caption:  vid.GetCaption(),
			Mimetype: vid.GetMimetype(),
			Length:   vid.GetFileLength(),
			Raw:      vid,
		}
	}
	return c
}

// translateGroupInfo turns a membership change into a stub event. Joins
// through an invite link map to the invite stub, other joins to add. A leave
// initiated by someone other than the leaving member is a removal.
func translateGroupInfo(evt *events.GroupInfo) *bot.Event {
	var stub int
	switch {
	case len(evt.Join) > 0:
		stub = bot.StubGroupParticipantAdd
		if evt.JoinReason == "invite" {
			stub = bot.StubGroupParticipantInvite
		}
	case len(evt.Leave) > 0:
		stub = bot.StubGroupParticipantLeave
		if evt.Sender != nil && !containsUser(evt.Leave, *evt.Sender) {
			stub = bot.StubGroupParticipantRemove
		}
	default:
		return nil
	}

	e := &bot.Event{
		ID:        evt.JID.String() + "/" + strconv.FormatInt(evt.Timestamp.UnixNano(), 10),
		ChatID:    evt.JID.String(),
		StubType:  stub,
		Content:   &bot.Content{},
		Timestamp: evt.Timestamp,
		Raw:       evt,
	}
	if evt.Sender != nil {
		e.Participant = evt.Sender.ToNonAD().String()
	}
	return e
}

func containsUser(list []types.JID, jid types.JID) bool {
	for _, j := range list {
		if j.User == jid.User && j.Server == jid.Server {
			return true
		}
	}
	return false
}
