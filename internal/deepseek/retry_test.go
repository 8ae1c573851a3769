package deepseek

import (
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestRetryPolicy_Decide(t *testing.T) {
	limited := &UpstreamError{StatusCode: http.StatusTooManyRequests}
	p := DefaultRetryPolicy()

	tests := []struct {
		name    string
		attempt int
		err     error
		want    Decision
	}{
		{"first 429 waits 1s", 0, limited, Decision{Retry: true, Delay: time.Second}},
		{"second 429 waits 2s", 1, limited, Decision{Retry: true, Delay: 2 * time.Second}},
		{"third 429 gives up", 2, limited, Decision{}},
		{"server error never retried", 0, &UpstreamError{StatusCode: 500}, Decision{}},
		{"network error never retried", 0, &UpstreamError{Err: errors.New("dial tcp")}, Decision{}},
		{"nil error", 0, nil, Decision{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.Decide(tt.attempt, tt.err); got != tt.want {
				t.Errorf("Decide(%d) = %+v, want %+v", tt.attempt, got, tt.want)
			}
		})
	}
}

func TestRetryPolicy_CustomBase(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, Base: 100 * time.Millisecond}
	limited := &UpstreamError{StatusCode: http.StatusTooManyRequests}

	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond}
	for i, w := range want {
		if d := p.Decide(i, limited); !d.Retry || d.Delay != w {
			t.Errorf("attempt %d: got %+v, want delay %v", i, d, w)
		}
	}
	if d := p.Decide(4, limited); d.Retry {
		t.Error("fifth failure should not be retried")
	}
}

func TestIsRateLimited_Wrapped(t *testing.T) {
	err := errors.Join(errors.New("context"), &UpstreamError{StatusCode: 429})
	if !IsRateLimited(err) {
		t.Error("wrapped 429 should be detected")
	}
}
