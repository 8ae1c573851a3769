package telegram

import (
	"context"
	"sync"
	"testing"

	"github.com/MikeSquared-Agency/courier/internal/delivery"
	"github.com/MikeSquared-Agency/courier/internal/relay"
	"github.com/MikeSquared-Agency/courier/internal/session"
)

type fakeRelay struct {
	mu        sync.Mutex
	texts     []string
	models    []string
	streaming []bool
	resets    int
}

func (f *fakeRelay) HandleIncomingText(ctx context.Context, chatID int64, text string) (relay.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if text == "" || text[0] == '/' {
		return relay.Received, &relay.ValidationError{Reason: "command text"}
	}
	f.texts = append(f.texts, text)
	return relay.Delivered, nil
}

func (f *fakeRelay) SetModel(chatID int64, name string) (session.Model, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.models = append(f.models, name)
	return session.ParseModel(name)
}

func (f *fakeRelay) SetStreaming(chatID int64, enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streaming = append(f.streaming, enabled)
}

func (f *fakeRelay) Reset(chatID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
}

type fakeSender struct {
	mu      sync.Mutex
	replies []string
}

func (f *fakeSender) SendMessage(ctx context.Context, chatID int64, text string) (delivery.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, text)
	return delivery.MessageRef{ChatID: chatID, MessageID: int64(len(f.replies))}, nil
}

func textUpdate(text string) Update {
	return TextUpdate(42, text)
}

func TestDispatcher_Commands(t *testing.T) {
	tests := []struct {
		text      string
		wantReply string
	}{
		{"/start", welcomeText},
		{"/help", helpText},
		{"/help@courier_bot", helpText},
		{"/model coder", "Model set to deepseek-coder"},
		{"/model REASONER", "Model set to deepseek-reasoner"},
		{"/model gpt-4", modelUsageText},
		{"/model", modelUsageText},
		{"/stream", streamOnText},
		{"/stop", streamOffText},
		{"/reset", resetText},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			r := &fakeRelay{}
			s := &fakeSender{}
			d := NewDispatcher(r, s, discardLogger())

			d.Handle(context.Background(), textUpdate(tt.text))

			if len(s.replies) != 1 || s.replies[0] != tt.wantReply {
				t.Errorf("replies = %q, want [%q]", s.replies, tt.wantReply)
			}
			if len(r.texts) != 0 {
				t.Error("commands must not reach the relay as text")
			}
		})
	}
}

func TestDispatcher_CommandSideEffects(t *testing.T) {
	r := &fakeRelay{}
	d := NewDispatcher(r, &fakeSender{}, discardLogger())
	ctx := context.Background()

	d.Handle(ctx, textUpdate("/stream"))
	d.Handle(ctx, textUpdate("/stop"))
	d.Handle(ctx, textUpdate("/model@courier_bot chat"))
	d.Handle(ctx, textUpdate("/reset"))

	if len(r.streaming) != 2 || !r.streaming[0] || r.streaming[1] {
		t.Errorf("streaming toggles = %v, want [true false]", r.streaming)
	}
	if len(r.models) != 1 || r.models[0] != "chat" {
		t.Errorf("models = %v, want [chat]", r.models)
	}
	if r.resets != 1 {
		t.Errorf("resets = %d, want 1", r.resets)
	}
}

func TestDispatcher_UnknownCommandIgnored(t *testing.T) {
	r := &fakeRelay{}
	s := &fakeSender{}
	NewDispatcher(r, s, discardLogger()).Handle(context.Background(), textUpdate("/frobnicate"))

	if len(s.replies) != 0 || len(r.texts) != 0 {
		t.Errorf("unknown command produced output: replies=%q texts=%q", s.replies, r.texts)
	}
}

func TestDispatcher_TextGoesToRelay(t *testing.T) {
	r := &fakeRelay{}
	s := &fakeSender{}
	d := NewDispatcher(r, s, discardLogger())

	d.Handle(context.Background(), textUpdate("what is go?"))
	d.Handle(context.Background(), Update{UpdateID: 3})

	if len(r.texts) != 1 || r.texts[0] != "what is go?" {
		t.Errorf("relay texts = %q", r.texts)
	}
	if len(s.replies) != 0 {
		t.Error("the dispatcher itself must not reply to plain text")
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in       string
		wantName string
		wantArg  string
		wantOK   bool
	}{
		{"/start", "start", "", true},
		{"/model coder", "model", "coder", true},
		{"/model@bot  reasoner ", "model", "reasoner", true},
		{"/HELP", "help", "", true},
		{"hello", "", "", false},
		{"/", "", "", false},
		{"/@bot", "", "", false},
	}
	for _, tt := range tests {
		name, arg, ok := parseCommand(tt.in)
		if name != tt.wantName || arg != tt.wantArg || ok != tt.wantOK {
			t.Errorf("parseCommand(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tt.in, name, arg, ok, tt.wantName, tt.wantArg, tt.wantOK)
		}
	}
}
