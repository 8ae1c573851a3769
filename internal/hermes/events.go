package hermes

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/courier/internal/relay"
)

const (
	SubjectTurnDelivered = "courier.turn.delivered"
	SubjectTurnFailed    = "courier.turn.failed"
	SubjectInboundText   = "courier.inbound.text"
	SubjectRegistered    = "swarm.agent.courier.registered"
)

// TurnEvent announces a finished turn. Message text is never included.
type TurnEvent struct {
	TurnID      string    `json:"turn_id"`
	ChatID      int64     `json:"chat_id"`
	Model       string    `json:"model"`
	Mode        string    `json:"mode"`
	State       string    `json:"state"`
	ErrorClass  string    `json:"error_class,omitempty"`
	HistoryLen  int       `json:"history_len"`
	ReplyLength int       `json:"reply_length"`
	DurationMS  int64     `json:"duration_ms"`
	StartedAt   time.Time `json:"started_at"`
}

// NewTurnEvent converts a relay record and picks its subject.
func NewTurnEvent(rec relay.TurnRecord) (string, TurnEvent) {
	subject := SubjectTurnDelivered
	if rec.State == relay.Failed {
		subject = SubjectTurnFailed
	}
	return subject, TurnEvent{
		TurnID:      rec.ID.String(),
		ChatID:      rec.ChatID,
		Model:       rec.Model,
		Mode:        rec.Mode,
		State:       rec.State.String(),
		ErrorClass:  rec.ErrorClass,
		HistoryLen:  rec.HistoryLen,
		ReplyLength: rec.ReplyLength,
		DurationMS:  rec.Duration.Milliseconds(),
		StartedAt:   rec.StartedAt,
	}
}

// TurnFinished publishes the turn on the delivered or failed subject.
func (c *Client) TurnFinished(_ context.Context, rec relay.TurnRecord) error {
	subject, evt := NewTurnEvent(rec)
	if err := c.Publish(subject, evt); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// InboundText is a chat message injected over NATS instead of Telegram.
type InboundText struct {
	ChatID int64  `json:"chat_id"`
	Text   string `json:"text"`
}

func decodeInbound(data []byte) (InboundText, error) {
	var in InboundText
	if err := json.Unmarshal(data, &in); err != nil {
		return in, fmt.Errorf("parse inbound text: %w", err)
	}
	if in.ChatID == 0 {
		return in, fmt.Errorf("inbound text without chat_id")
	}
	if strings.TrimSpace(in.Text) == "" {
		return in, fmt.Errorf("inbound text without text")
	}
	return in, nil
}

// SubscribeInbound delivers every valid InboundText to handle. Malformed
// payloads are logged and dropped.
func (c *Client) SubscribeInbound(handle func(InboundText)) error {
	return c.Subscribe(SubjectInboundText, func(subject string, data []byte) {
		in, err := decodeInbound(data)
		if err != nil {
			c.logger.Warn("dropping inbound message", "subject", subject, "error", err)
			return
		}
		handle(in)
	})
}
