// Package relay runs one conversational turn end to end: it records the
// user's text, builds the bounded request context, delivers the answer and
// keeps the session history within its retention bounds.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/courier/internal/clock"
	"github.com/MikeSquared-Agency/courier/internal/deepseek"
	"github.com/MikeSquared-Agency/courier/internal/delivery"
	"github.com/MikeSquared-Agency/courier/internal/session"
)

const (
	DefaultSystemPrompt  = "You are a helpful AI assistant."
	DefaultContextWindow = 10

	// FailureMessage is the only thing a user ever sees when a turn fails.
	FailureMessage = "Sorry, something went wrong. Try again later!"

	commandPrefix      = "/"
	failureSendTimeout = 10 * time.Second
)

// Deliverer pushes an answer to the user. *delivery.Coordinator satisfies it.
type Deliverer interface {
	Deliver(ctx context.Context, chatID int64, mode delivery.Mode, messages []deepseek.Message, model string) (string, error)
}

// Sender sends a plain message; used for the failure notice.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string) (delivery.MessageRef, error)
}

// Observer is told about every turn that reaches a terminal state.
type Observer interface {
	TurnFinished(ctx context.Context, rec TurnRecord) error
}

type Options struct {
	SystemPrompt  string
	ContextWindow int
	Observers     []Observer
	Clock         clock.Clock
	Logger        *slog.Logger
}

type Orchestrator struct {
	sessions      *session.Store
	delivery      Deliverer
	sender        Sender
	systemPrompt  string
	contextWindow int
	observers     []Observer
	clock         clock.Clock
	logger        *slog.Logger
	locks         *keyedMutex
}

func New(sessions *session.Store, d Deliverer, sender Sender, opts Options) *Orchestrator {
	o := &Orchestrator{
		sessions:      sessions,
		delivery:      d,
		sender:        sender,
		systemPrompt:  opts.SystemPrompt,
		contextWindow: opts.ContextWindow,
		observers:     opts.Observers,
		clock:         opts.Clock,
		logger:        opts.Logger,
		locks:         newKeyedMutex(),
	}
	if o.systemPrompt == "" {
		o.systemPrompt = DefaultSystemPrompt
	}
	if o.contextWindow <= 0 {
		o.contextWindow = DefaultContextWindow
	}
	if o.clock == nil {
		o.clock = clock.Real()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// AddObserver registers an observer. It must be called before turns start.
func (o *Orchestrator) AddObserver(obs Observer) {
	o.observers = append(o.observers, obs)
}

// HandleIncomingText runs one turn for chatID and returns the terminal
// state it reached. Turns for the same chat run strictly one after another.
//
// Input that is empty or looks like a command is rejected with a
// *ValidationError and state Received; nothing is sent. Any other failure
// ends in Failed after the user has been sent FailureMessage; the user turn
// stays in history.
func (o *Orchestrator) HandleIncomingText(ctx context.Context, chatID int64, text string) (State, error) {
	if strings.TrimSpace(text) == "" {
		return Received, &ValidationError{Reason: "empty text"}
	}
	if strings.HasPrefix(text, commandPrefix) {
		return Received, &ValidationError{Reason: "command text"}
	}

	unlock := o.locks.Lock(chatID)
	defer unlock()
	unpin := o.sessions.Pin(chatID)
	defer unpin()

	rec := TurnRecord{
		ID:        uuid.New(),
		ChatID:    chatID,
		StartedAt: o.clock.Now(),
	}

	sess := o.sessions.Append(chatID, session.UserTurn(text))
	messages := o.buildContext(chatID)
	o.logger.Debug("context built", "chat_id", chatID, "state", ContextBuilt.String(), "messages", len(messages))

	mode := delivery.ModeFor(sess.Streaming)
	rec.Model = string(sess.Model)
	rec.Mode = mode.String()

	answer, err := o.delivery.Deliver(ctx, chatID, mode, messages, rec.Model)
	if err != nil {
		return o.fail(ctx, rec, AwaitingUpstream, err)
	}

	o.sessions.Append(chatID, session.AssistantTurn(answer))
	o.trim(chatID)

	rec.State = Delivered
	rec.ReplyLength = len(answer)
	o.finish(ctx, rec)
	return Delivered, nil
}

func (o *Orchestrator) buildContext(chatID int64) []deepseek.Message {
	turns := append([]session.Turn{session.SystemTurn(o.systemPrompt)}, o.sessions.Context(chatID, o.contextWindow)...)
	messages := make([]deepseek.Message, 0, len(turns))
	for _, t := range turns {
		messages = append(messages, deepseek.Message{Role: string(t.Role), Content: t.Content})
	}
	return messages
}

func (o *Orchestrator) trim(chatID int64) {
	if removed := o.sessions.Trim(chatID); removed > 0 {
		o.logger.Debug("trimmed history", "chat_id", chatID, "removed", removed)
	}
}

func (o *Orchestrator) fail(ctx context.Context, rec TurnRecord, from State, cause error) (State, error) {
	rec.State = Failed
	rec.ErrorClass = delivery.ErrorClass(cause)
	o.logger.Error("turn failed",
		"chat_id", rec.ChatID,
		"model", rec.Model,
		"mode", rec.Mode,
		"state", from.String(),
		"class", rec.ErrorClass,
		"error", cause,
	)
	o.trim(rec.ChatID)

	// The notice must go out even when the turn was cancelled.
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureSendTimeout)
	defer cancel()
	if _, err := o.sender.SendMessage(sendCtx, rec.ChatID, FailureMessage); err != nil {
		o.logger.Error("failed to send failure notice", "chat_id", rec.ChatID, "error", err)
	}

	o.finish(ctx, rec)
	return Failed, fmt.Errorf("turn %s: %w", rec.ID, cause)
}

func (o *Orchestrator) finish(ctx context.Context, rec TurnRecord) {
	rec.Duration = o.clock.Now().Sub(rec.StartedAt)
	if sess, ok := o.sessions.Get(rec.ChatID); ok {
		rec.HistoryLen = len(sess.History)
	}

	o.logger.Info("turn finished",
		"chat_id", rec.ChatID,
		"turn_id", rec.ID,
		"state", rec.State.String(),
		"model", rec.Model,
		"mode", rec.Mode,
		"duration", rec.Duration,
	)

	ctx = context.WithoutCancel(ctx)
	for _, obs := range o.observers {
		if err := obs.TurnFinished(ctx, rec); err != nil {
			o.logger.Warn("turn observer failed", "turn_id", rec.ID, "error", err)
		}
	}
}

// SetModel switches the chat's model. name may be a short name (chat,
// coder, reasoner) or a full model id. Only the model changes.
func (o *Orchestrator) SetModel(chatID int64, name string) (session.Model, error) {
	m, err := session.ParseModel(name)
	if err != nil {
		return "", err
	}
	o.sessions.Set(chatID, session.Update{Model: &m})
	o.logger.Info("model changed", "chat_id", chatID, "model", string(m))
	return m, nil
}

// SetStreaming switches the chat between one-shot and streaming delivery.
func (o *Orchestrator) SetStreaming(chatID int64, enabled bool) {
	o.sessions.Set(chatID, session.Update{Streaming: &enabled})
	o.logger.Info("streaming changed", "chat_id", chatID, "streaming", enabled)
}

// Reset forgets the chat's history but keeps its settings. It waits for
// any in-flight turn of that chat to finish first.
func (o *Orchestrator) Reset(chatID int64) {
	unlock := o.locks.Lock(chatID)
	defer unlock()
	o.sessions.Reset(chatID)
	o.logger.Info("history reset", "chat_id", chatID)
}
