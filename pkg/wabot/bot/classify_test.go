package bot

import (
	"regexp"
	"testing"
)

func strPtr(s string) *string { return &s }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		evt  *Event
		want Classification
	}{
		{
			name: "nil content is dropped",
			evt:  &Event{ChatID: "1@s.whatsapp.net"},
			want: Classification{Drop: true},
		},
		{
			name: "status broadcast is dropped",
			evt:  &Event{ChatID: StatusBroadcast, Content: &Content{Conversation: ".ping"}},
			want: Classification{Drop: true},
		},
		{
			name: "remove stub",
			evt:  &Event{ChatID: "g@g.us", StubType: 28, Content: &Content{Conversation: "ignored"}},
			want: Classification{Stub: StubGoodbye},
		},
		{
			name: "leave stub",
			evt:  &Event{ChatID: "g@g.us", StubType: 32, Content: &Content{}},
			want: Classification{Stub: StubGoodbye},
		},
		{
			name: "add stub",
			evt:  &Event{ChatID: "g@g.us", StubType: 27, Content: &Content{}},
			want: Classification{Stub: StubWelcome},
		},
		{
			name: "invite stub",
			evt:  &Event{ChatID: "g@g.us", StubType: 31, Content: &Content{}},
			want: Classification{Stub: StubWelcome},
		},
		{
			name: "unrelated stub falls through",
			evt:  &Event{ChatID: "g@g.us", StubType: 20, Content: &Content{Conversation: "hi"}},
			want: Classification{Text: "hi"},
		},
		{
			name: "image caption wins",
			evt: &Event{ChatID: "c", Content: &Content{
				Conversation: "conv",
				ExtendedText: strPtr("ext"),
				Image:        &Media{Caption: "img"},
				Video:        &Media{Caption: "vid"},
			}},
			want: Classification{Text: "img", Media: MediaImage},
		},
		{
			name: "video caption before extended text",
			evt: &Event{ChatID: "c", Content: &Content{
				ExtendedText: strPtr("ext"),
				Video:        &Media{Caption: "vid"},
			}},
			want: Classification{Text: "vid", Media: MediaVideo},
		},
		{
			name: "empty caption falls back",
			evt: &Event{ChatID: "c", Content: &Content{
				Conversation: "conv",
				Image:        &Media{},
			}},
			want: Classification{Text: "conv", Media: MediaImage},
		},
		{
			name: "extended text before conversation",
			evt:  &Event{ChatID: "c", Content: &Content{Conversation: "conv", ExtendedText: strPtr("ext")}},
			want: Classification{Text: "ext"},
		},
		{
			name: "empty content",
			evt:  &Event{ChatID: "c", Content: &Content{}},
			want: Classification{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.evt)
			if got != tt.want {
				t.Errorf("Classify() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestClassificationMatch(t *testing.T) {
	ping := &Command{Pattern: regexp.MustCompile(`^\.ping(?:\s+(.*))?$`)}
	onImage := &Command{On: MediaImage}
	onVideo := &Command{On: MediaVideo}
	onText := &Command{On: MediaText}

	t.Run("pattern submatches", func(t *testing.T) {
		ok, match := Classification{Text: ".ping now"}.Match(ping)
		if !ok {
			t.Fatal("expected match")
		}
		if len(match) != 2 || match[1] != "now" {
			t.Errorf("unexpected match %q", match)
		}
	})

	t.Run("pattern without text", func(t *testing.T) {
		if ok, _ := (Classification{Media: MediaImage}).Match(ping); ok {
			t.Error("pattern must not match missing text")
		}
	})

	t.Run("media selector", func(t *testing.T) {
		cl := Classification{Media: MediaImage}
		if ok, match := cl.Match(onImage); !ok || match != nil {
			t.Errorf("image selector: ok=%v match=%v", ok, match)
		}
		if ok, _ := cl.Match(onVideo); ok {
			t.Error("video selector must not match an image")
		}
		if ok, _ := cl.Match(onText); ok {
			t.Error("text selector needs dispatch text")
		}
	})

	t.Run("text selector", func(t *testing.T) {
		if ok, _ := (Classification{Text: "anything"}).Match(onText); !ok {
			t.Error("text selector should match any text")
		}
	})
}

func TestAccessFromFlag(t *testing.T) {
	yes, no := true, false
	if AccessFromFlag(nil) != AccessAny {
		t.Error("nil should be AccessAny")
	}
	if AccessFromFlag(&yes) != AccessOwner {
		t.Error("true should be AccessOwner")
	}
	if AccessFromFlag(&no) != AccessPublic {
		t.Error("false should be AccessPublic")
	}
}

func TestMarksRead(t *testing.T) {
	off := false
	if !(&Command{Pattern: regexp.MustCompile(`x`)}).MarksRead() {
		t.Error("text trigger defaults to marking read")
	}
	if (&Command{On: MediaImage}).MarksRead() {
		t.Error("media selector defaults to not marking read")
	}
	if (&Command{Pattern: regexp.MustCompile(`x`), MarkRead: &off}).MarksRead() {
		t.Error("explicit false must win")
	}
}
