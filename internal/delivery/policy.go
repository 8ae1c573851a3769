package delivery

import (
	"time"

	"golang.org/x/time/rate"
)

// EditPolicy limits how often a streamed answer rewrites the live message.
// MinInterval spaces edits in time and Every only edits on every Nth
// fragment; when both are set an edit needs both to agree. The zero policy
// edits on every fragment.
type EditPolicy struct {
	MinInterval time.Duration
	Every       int
}

// throttle is the per-delivery state of an EditPolicy.
type throttle struct {
	every   int
	pending int
	limiter *rate.Limiter
}

func (p EditPolicy) start() *throttle {
	t := &throttle{every: p.Every}
	if p.MinInterval > 0 {
		t.limiter = rate.NewLimiter(rate.Every(p.MinInterval), 1)
	}
	return t
}

// sent records that the live message was written at now.
func (t *throttle) sent(now time.Time) {
	t.pending = 0
	if t.limiter != nil {
		t.limiter.AllowN(now, 1)
	}
}

// allow is called once per fragment after the first and reports whether
// the live message should be edited now.
func (t *throttle) allow(now time.Time) bool {
	t.pending++
	if t.every > 1 && t.pending < t.every {
		return false
	}
	if t.limiter != nil && !t.limiter.AllowN(now, 1) {
		return false
	}
	t.pending = 0
	return true
}
