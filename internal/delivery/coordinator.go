// Package delivery turns a completion into outbound chat messages: a single
// send for one-shot answers, or a live message edited in place while a
// streamed answer arrives.
package delivery

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/MikeSquared-Agency/courier/internal/clock"
	"github.com/MikeSquared-Agency/courier/internal/deepseek"
)

// Mode selects how an answer reaches the user.
type Mode int

const (
	OneShot Mode = iota
	Streaming
)

func (m Mode) String() string {
	if m == Streaming {
		return "streaming"
	}
	return "oneshot"
}

// ModeFor maps a session's streaming flag to a Mode.
func ModeFor(streaming bool) Mode {
	if streaming {
		return Streaming
	}
	return OneShot
}

// MessageRef identifies a sent message so it can be edited later.
type MessageRef struct {
	ChatID    int64
	MessageID int64
}

// Transport is the outbound side of a chat platform.
type Transport interface {
	SendMessage(ctx context.Context, chatID int64, text string) (MessageRef, error)
	EditMessage(ctx context.Context, ref MessageRef, text string) error
	SendTyping(ctx context.Context, chatID int64) error
}

// Completer produces answers. *deepseek.Client satisfies it.
type Completer interface {
	Complete(ctx context.Context, messages []deepseek.Message, model string) (string, error)
	Stream(ctx context.Context, messages []deepseek.Message, model string) (*deepseek.Fragments, error)
}

type Options struct {
	Edits EditPolicy
	// StreamTimeout bounds a whole streamed answer. Zero means no deadline
	// beyond the caller's context.
	StreamTimeout time.Duration
	Clock         clock.Clock
	Logger        *slog.Logger
}

type Coordinator struct {
	transport     Transport
	completer     Completer
	edits         EditPolicy
	streamTimeout time.Duration
	clock         clock.Clock
	logger        *slog.Logger
}

func NewCoordinator(transport Transport, completer Completer, opts Options) *Coordinator {
	c := &Coordinator{
		transport:     transport,
		completer:     completer,
		edits:         opts.Edits,
		streamTimeout: opts.StreamTimeout,
		clock:         opts.Clock,
		logger:        opts.Logger,
	}
	if c.clock == nil {
		c.clock = clock.Real()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Deliver signals typing once, obtains the answer in the given mode and
// pushes it to chatID. It returns the final answer text. Completion
// failures come back as *deepseek.UpstreamError and outbound failures as
// *TransportError.
func (c *Coordinator) Deliver(ctx context.Context, chatID int64, mode Mode, messages []deepseek.Message, model string) (string, error) {
	if err := c.transport.SendTyping(ctx, chatID); err != nil {
		return "", &TransportError{Op: "typing", Err: err}
	}

	if mode == Streaming {
		return c.deliverStream(ctx, chatID, messages, model)
	}
	return c.deliverOnce(ctx, chatID, messages, model)
}

func (c *Coordinator) deliverOnce(ctx context.Context, chatID int64, messages []deepseek.Message, model string) (string, error) {
	text, err := c.completer.Complete(ctx, messages, model)
	if err != nil {
		return "", err
	}
	if _, err := c.transport.SendMessage(ctx, chatID, text); err != nil {
		return "", &TransportError{Op: "send", Err: err}
	}
	return text, nil
}

func (c *Coordinator) deliverStream(ctx context.Context, chatID int64, messages []deepseek.Message, model string) (string, error) {
	if c.streamTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.streamTimeout)
		defer cancel()
	}

	frags, err := c.completer.Stream(ctx, messages, model)
	if err != nil {
		return "", err
	}
	defer frags.Close()

	var (
		live    MessageRef
		started bool
		shown   string
		edits   int
		gate    = c.edits.start()
	)

	for {
		text, err := frags.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}

		if !started {
			live, err = c.transport.SendMessage(ctx, chatID, text)
			if err != nil {
				return "", &TransportError{Op: "send", Err: err}
			}
			started = true
			shown = text
			gate.sent(c.clock.Now())
			continue
		}

		if !gate.allow(c.clock.Now()) {
			continue
		}
		if err := c.transport.EditMessage(ctx, live, text); err != nil {
			return "", &TransportError{Op: "edit", Err: err}
		}
		shown = text
		edits++
	}

	final := frags.Text()
	if !started {
		return "", &deepseek.UpstreamError{Message: "stream produced no content"}
	}
	if shown != final {
		if err := c.transport.EditMessage(ctx, live, final); err != nil {
			return "", &TransportError{Op: "edit", Err: err}
		}
		edits++
	}

	c.logger.Debug("stream delivered", "chat_id", chatID, "model", model, "edits", edits, "length", len(final))
	return final, nil
}

// ErrorClass buckets a delivery failure for logs and the turn ledger.
func ErrorClass(err error) string {
	var te *TransportError
	var ue *deepseek.UpstreamError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &te):
		return "transport_" + te.Op
	case errors.As(err, &ue) && ue.RateLimited():
		return "rate_limited"
	case errors.As(err, &ue):
		return "upstream"
	default:
		return "internal"
	}
}
