package telegram

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

const (
	defaultPollTimeout = 30 * time.Second
	pollErrorBackoff   = time.Second
)

// Poller runs the getUpdates long-poll loop and feeds the queue.
type Poller struct {
	client  *Client
	queue   *Queue
	timeout time.Duration
	logger  *slog.Logger
}

func NewPoller(client *Client, queue *Queue, logger *slog.Logger) *Poller {
	return &Poller{client: client, queue: queue, timeout: defaultPollTimeout, logger: logger}
}

// Run polls until ctx is cancelled. Poll failures are logged and retried;
// Run only returns nil.
func (p *Poller) Run(ctx context.Context) error {
	var offset int64
	p.logger.Info("telegram polling started", "timeout", p.timeout)

	for {
		updates, err := p.client.GetUpdates(ctx, offset, p.timeout)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				p.logger.Info("telegram polling stopped")
				return nil
			}
			p.logger.Warn("get updates failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(pollBackoff(err)):
			}
			continue
		}

		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			p.queue.Enqueue(u)
		}
	}
}

// pollBackoff honours the retry_after hint of a flood-control error.
func pollBackoff(err error) time.Duration {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
		return time.Duration(apiErr.RetryAfter) * time.Second
	}
	return pollErrorBackoff
}
