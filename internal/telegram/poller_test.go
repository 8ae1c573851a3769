package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestPoller_AdvancesOffsetAndQueues(t *testing.T) {
	var (
		mu      sync.Mutex
		offsets []float64
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var params map[string]any
		json.NewDecoder(r.Body).Decode(&params)

		mu.Lock()
		offsets = append(offsets, params["offset"].(float64))
		n := len(offsets)
		mu.Unlock()

		switch n {
		case 1:
			io.WriteString(w, `{"ok":true,"result":[
				{"update_id":10,"message":{"message_id":1,"chat":{"id":7},"text":"a"}},
				{"update_id":11,"message":{"message_id":2,"chat":{"id":7},"text":"b"}}
			]}`)
		case 2:
			io.WriteString(w, `{"ok":false,"error_code":502,"description":"Bad Gateway"}`)
		default:
			// Hold the long poll open until the client gives up.
			<-r.Context().Done()
		}
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := NewClient(testToken, discardLogger())
	c.SetTestTransport(server.URL)
	h := newRecordingHandler()
	q := NewQueue(ctx, h, discardLogger())
	p := NewPoller(c, q, discardLogger())
	p.timeout = time.Second

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	h.waitFor(t, 2)

	deadline := time.Now().Add(5 * time.Second)
	for {
		mu.Lock()
		n := len(offsets)
		mu.Unlock()
		if n >= 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("poller did not recover from the failed poll")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	mu.Lock()
	defer mu.Unlock()
	if offsets[0] != 0 || offsets[1] != 12 || offsets[2] != 12 {
		t.Errorf("offsets = %v, want [0 12 12 ...]", offsets)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if got := h.seen[7]; len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("queued texts = %v", got)
	}
}

func TestPollBackoff(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want time.Duration
	}{
		{"plain error", errors.New("boom"), pollErrorBackoff},
		{"api error without hint", &APIError{Method: "getUpdates", Code: 502}, pollErrorBackoff},
		{"flood control", &APIError{Method: "getUpdates", Code: 429, RetryAfter: 7}, 7 * time.Second},
		{"wrapped flood control", fmt.Errorf("poll: %w", &APIError{Code: 429, RetryAfter: 3}), 3 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := pollBackoff(tt.err); got != tt.want {
				t.Errorf("pollBackoff = %v, want %v", got, tt.want)
			}
		})
	}
}
