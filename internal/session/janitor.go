package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MikeSquared-Agency/courier/internal/clock"
)

// DefaultJanitorInterval is how often idle sessions are swept.
const DefaultJanitorInterval = time.Minute

// Janitor periodically evicts idle sessions from a Store.
type Janitor struct {
	store    *Store
	interval time.Duration
	clock    clock.Clock
	logger   *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

func NewJanitor(store *Store, interval time.Duration, clk clock.Clock, logger *slog.Logger) *Janitor {
	if interval <= 0 {
		interval = DefaultJanitorInterval
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Janitor{
		store:    store,
		interval: interval,
		clock:    clk,
		logger:   logger,
	}
}

// Start launches the sweep loop. Calling Start on a running janitor is a no-op.
func (j *Janitor) Start(ctx context.Context) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.running {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	j.cancel = cancel
	j.done = make(chan struct{})
	j.running = true

	go j.run(runCtx, j.done)
}

// Stop halts the sweep loop and waits for it to exit.
func (j *Janitor) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	cancel, done := j.cancel, j.done
	j.mu.Unlock()

	cancel()
	<-done
}

func (j *Janitor) run(ctx context.Context, done chan struct{}) {
	defer func() {
		j.mu.Lock()
		j.running = false
		j.mu.Unlock()
		close(done)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-j.clock.After(j.interval):
			if removed := j.store.CleanupExpired(); removed > 0 {
				j.logger.Info("evicted idle sessions", "removed", removed, "remaining", j.store.Len())
			}
		}
	}
}
