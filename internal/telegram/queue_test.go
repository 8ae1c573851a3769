package telegram

import (
	"context"
	"reflect"
	"sync"
	"testing"
	"time"
)

type recordingHandler struct {
	mu    sync.Mutex
	seen  map[int64][]string
	gate  chan struct{}
	total chan struct{}
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{seen: map[int64][]string{}, total: make(chan struct{}, 100)}
}

func (h *recordingHandler) Handle(ctx context.Context, u Update) {
	if h.gate != nil {
		<-h.gate
	}
	h.mu.Lock()
	h.seen[u.Message.Chat.ID] = append(h.seen[u.Message.Chat.ID], u.Message.Text)
	h.mu.Unlock()
	h.total <- struct{}{}
}

func (h *recordingHandler) waitFor(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-h.total:
		case <-time.After(2 * time.Second):
			t.Fatalf("handled %d of %d updates", i, n)
		}
	}
}

func TestQueue_PreservesPerChatOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newRecordingHandler()
	q := NewQueue(ctx, h, discardLogger())

	for _, text := range []string{"1", "2", "3"} {
		q.Enqueue(TextUpdate(1, text))
		q.Enqueue(TextUpdate(2, text))
	}
	h.waitFor(t, 6)

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, chat := range []int64{1, 2} {
		if got := h.seen[chat]; !reflect.DeepEqual(got, []string{"1", "2", "3"}) {
			t.Errorf("chat %d order = %v", chat, got)
		}
	}
}

func TestQueue_DropsWhenBacklogFull(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newRecordingHandler()
	h.gate = make(chan struct{})
	q := NewQueue(ctx, h, discardLogger())
	q.size = 1

	q.Enqueue(TextUpdate(1, "in flight"))
	// Wait for the worker to pick the first update up so the backlog is empty.
	deadline := time.Now().Add(2 * time.Second)
	for {
		q.mu.Lock()
		n := len(q.workers[1])
		q.mu.Unlock()
		if n == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("worker never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if !q.Enqueue(TextUpdate(1, "queued")) {
		t.Fatal("first backlog slot should accept")
	}
	if q.Enqueue(TextUpdate(1, "dropped")) {
		t.Fatal("full backlog should reject")
	}

	close(h.gate)
	h.waitFor(t, 2)
}

func TestQueue_IdleWorkersExit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newRecordingHandler()
	q := NewQueue(ctx, h, discardLogger())
	q.idle = 20 * time.Millisecond

	q.Enqueue(TextUpdate(9, "hi"))
	h.waitFor(t, 1)

	deadline := time.Now().Add(2 * time.Second)
	for q.active() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("idle worker did not exit")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// A new update restarts the chat's worker.
	q.Enqueue(TextUpdate(9, "again"))
	h.waitFor(t, 1)
}

func TestQueue_WaitAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	q := NewQueue(ctx, newRecordingHandler(), discardLogger())
	q.Enqueue(TextUpdate(1, "x"))
	cancel()

	done := make(chan struct{})
	go func() {
		q.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("workers did not stop after cancel")
	}
}

func TestQueue_RejectsAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := newRecordingHandler()
	q := NewQueue(ctx, h, discardLogger())
	cancel()

	if q.Enqueue(TextUpdate(1, "late")) {
		t.Error("Enqueue accepted an update after cancellation")
	}
	if n := q.active(); n != 0 {
		t.Errorf("active workers = %d, want 0", n)
	}
	q.Wait()

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.seen) != 0 {
		t.Errorf("handled %v after cancellation", h.seen)
	}
}

func TestQueue_IgnoresUpdatesWithoutMessage(t *testing.T) {
	q := NewQueue(context.Background(), newRecordingHandler(), discardLogger())
	if q.Enqueue(Update{UpdateID: 1}) {
		t.Error("update without message should not be queued")
	}
}
