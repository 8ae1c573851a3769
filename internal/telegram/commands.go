package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MikeSquared-Agency/courier/internal/delivery"
	"github.com/MikeSquared-Agency/courier/internal/relay"
	"github.com/MikeSquared-Agency/courier/internal/session"
)

const (
	welcomeText = "Welcome to your DeepSeek-powered bot! Ask me anything.\n" +
		"Commands:\n" +
		"/start - Start the bot\n" +
		"/help - Show commands\n" +
		"/model <chat|coder|reasoner> - Set model\n" +
		"/stream - Enable streaming\n" +
		"/stop - Disable streaming\n" +
		"/reset - Forget this conversation"

	helpText = "Commands:\n" +
		"/start - Start the bot\n" +
		"/help - Show this help\n" +
		"/model <chat|coder|reasoner> - Set DeepSeek model\n" +
		"/stream - Enable streaming responses\n" +
		"/stop - Disable streaming\n" +
		"/reset - Forget this conversation"

	modelUsageText  = "Invalid model. Use: /model chat, /model coder, or /model reasoner"
	streamOnText    = "Streaming mode enabled. Send a message to get a streamed response. Use /stop to disable."
	streamOffText   = "Streaming mode disabled."
	resetText       = "Conversation history cleared."
	modelChangedFmt = "Model set to %s"
)

// Relay is the conversational core the dispatcher drives.
type Relay interface {
	HandleIncomingText(ctx context.Context, chatID int64, text string) (relay.State, error)
	SetModel(chatID int64, name string) (session.Model, error)
	SetStreaming(chatID int64, enabled bool)
	Reset(chatID int64)
}

// Sender posts command replies.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string) (delivery.MessageRef, error)
}

// Dispatcher routes an inbound message either to a command handler or to
// the relay as a conversational turn.
type Dispatcher struct {
	relay  Relay
	sender Sender
	logger *slog.Logger
}

func NewDispatcher(r Relay, sender Sender, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{relay: r, sender: sender, logger: logger}
}

// Handle processes one update. Errors are logged, never returned: a bad
// message must not stop the inbound loop.
func (d *Dispatcher) Handle(ctx context.Context, u Update) {
	msg := u.Message
	if msg == nil || msg.Text == "" {
		return
	}
	chatID := msg.Chat.ID

	if name, arg, ok := parseCommand(msg.Text); ok {
		d.command(ctx, chatID, name, arg)
		return
	}

	state, err := d.relay.HandleIncomingText(ctx, chatID, msg.Text)
	var ve *relay.ValidationError
	if errors.As(err, &ve) {
		d.logger.Debug("ignored message", "chat_id", chatID, "reason", ve.Reason)
		return
	}
	d.logger.Debug("message handled", "chat_id", chatID, "state", state.String())
}

func (d *Dispatcher) command(ctx context.Context, chatID int64, name, arg string) {
	var reply string
	switch name {
	case "start":
		reply = welcomeText
	case "help":
		reply = helpText
	case "model":
		m, err := d.relay.SetModel(chatID, arg)
		if err != nil {
			reply = modelUsageText
			break
		}
		reply = fmt.Sprintf(modelChangedFmt, m)
	case "stream":
		d.relay.SetStreaming(chatID, true)
		reply = streamOnText
	case "stop":
		d.relay.SetStreaming(chatID, false)
		reply = streamOffText
	case "reset":
		d.relay.Reset(chatID)
		reply = resetText
	default:
		d.logger.Debug("unknown command", "chat_id", chatID, "command", name)
		return
	}

	if _, err := d.sender.SendMessage(ctx, chatID, reply); err != nil {
		d.logger.Error("failed to reply to command", "chat_id", chatID, "command", name, "error", err)
	}
}

// parseCommand splits "/model@my_bot coder" into ("model", "coder").
func parseCommand(text string) (name, arg string, ok bool) {
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	head, rest, _ := strings.Cut(strings.TrimPrefix(text, "/"), " ")
	head, _, _ = strings.Cut(head, "@")
	if head == "" {
		return "", "", false
	}
	return strings.ToLower(head), strings.TrimSpace(rest), true
}
