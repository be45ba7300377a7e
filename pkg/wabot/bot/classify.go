package bot

// StubKind is the greeting triggered by a group system event.
type StubKind string

const (
	StubNone    StubKind = ""
	StubWelcome StubKind = "welcome"
	StubGoodbye StubKind = "goodbye"
)

// WhatsApp-Web stub codes for group membership changes.
const (
	StubGroupParticipantAdd    = 27
	StubGroupParticipantRemove = 28
	StubGroupParticipantInvite = 31
	StubGroupParticipantLeave  = 32
)

// Classification is the routing view of an event.
type Classification struct {
	// Drop means the event gets no processing at all.
	Drop bool

	Stub StubKind

	// Text is the dispatch text; empty means none.
	Text  string
	Media MediaKind
}

// Classify extracts the dispatch text, media kind and stub kind of evt.
func Classify(evt *Event) Classification {
	if evt == nil || evt.Content == nil || evt.ChatID == StatusBroadcast {
		return Classification{Drop: true}
	}

	switch evt.StubType {
	case StubGroupParticipantRemove, StubGroupParticipantLeave:
		return Classification{Stub: StubGoodbye}
	case StubGroupParticipantAdd, StubGroupParticipantInvite:
		return Classification{Stub: StubWelcome}
	}

	c := evt.Content
	var cl Classification

	switch {
	case c.Image != nil && c.Image.Caption != "":
		cl.Text = c.Image.Caption
	case c.Video != nil && c.Video.Caption != "":
		cl.Text = c.Video.Caption
	case c.ExtendedText != nil && *c.ExtendedText != "":
		cl.Text = *c.ExtendedText
	default:
		cl.Text = c.Conversation
	}

	switch {
	case c.Image != nil:
		cl.Media = MediaImage
	case c.Video != nil:
		cl.Media = MediaVideo
	}

	return cl
}

// Match reports whether cmd fires for the classified event and returns the
// pattern submatches.
func (cl Classification) Match(cmd *Command) (bool, []string) {
	var match []string
	if cmd.Pattern != nil && cl.Text != "" {
		match = cmd.Pattern.FindStringSubmatch(cl.Text)
	}
	if match != nil {
		return true, match
	}
	if cmd.On == MediaNone {
		return false, nil
	}
	if cmd.On == cl.Media || (cmd.On == MediaText && cl.Text != "") {
		return true, nil
	}
	return false, nil
}
