package telegram

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	defaultQueueSize  = 16
	defaultWorkerIdle = time.Minute
)

// Handler consumes updates. *Dispatcher satisfies it.
type Handler interface {
	Handle(ctx context.Context, u Update)
}

// Queue fans updates out to one worker goroutine per chat so a slow turn
// never holds up other chats, while updates for the same chat are handled
// in arrival order. Idle workers exit and are restarted on demand.
type Queue struct {
	ctx     context.Context
	handler Handler
	size    int
	idle    time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	workers map[int64]chan Update
	wg      sync.WaitGroup
}

// NewQueue returns a queue whose workers run until ctx is cancelled.
func NewQueue(ctx context.Context, handler Handler, logger *slog.Logger) *Queue {
	return &Queue{
		ctx:     ctx,
		handler: handler,
		size:    defaultQueueSize,
		idle:    defaultWorkerIdle,
		logger:  logger,
		workers: make(map[int64]chan Update),
	}
}

// Enqueue hands u to its chat's worker. It never blocks; when the chat's
// backlog is full, or the queue has been shut down, the update is dropped
// and false is returned.
func (q *Queue) Enqueue(u Update) bool {
	if u.Message == nil {
		return false
	}
	chatID := u.Message.Chat.ID

	q.mu.Lock()
	defer q.mu.Unlock()

	// Workers must not start once Wait may be running.
	if q.ctx.Err() != nil {
		q.logger.Debug("queue closed, dropping update", "chat_id", chatID, "update_id", u.UpdateID)
		return false
	}

	ch, ok := q.workers[chatID]
	if !ok {
		ch = make(chan Update, q.size)
		q.workers[chatID] = ch
		q.wg.Add(1)
		go q.work(chatID, ch)
	}

	select {
	case ch <- u:
		return true
	default:
		q.logger.Warn("chat queue full, dropping update", "chat_id", chatID, "update_id", u.UpdateID)
		return false
	}
}

func (q *Queue) work(chatID int64, ch chan Update) {
	defer q.wg.Done()

	idle := time.NewTimer(q.idle)
	defer idle.Stop()

	for {
		select {
		case <-q.ctx.Done():
			q.mu.Lock()
			if q.workers[chatID] == ch {
				delete(q.workers, chatID)
			}
			q.mu.Unlock()
			return
		case u := <-ch:
			if q.ctx.Err() != nil {
				continue
			}
			q.handler.Handle(q.ctx, u)
			idle.Reset(q.idle)
		case <-idle.C:
			// Sends only happen under q.mu, so an empty channel here
			// cannot gain an update after we leave.
			q.mu.Lock()
			if len(ch) == 0 {
				delete(q.workers, chatID)
				q.mu.Unlock()
				return
			}
			q.mu.Unlock()
			idle.Reset(q.idle)
		}
	}
}

// Wait blocks until every worker has exited. Workers exit when the
// queue's context is cancelled or after sitting idle.
func (q *Queue) Wait() {
	q.wg.Wait()
}

func (q *Queue) active() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.workers)
}
