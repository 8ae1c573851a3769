package deepseek

import "time"

const (
	DefaultMaxAttempts = 3
	DefaultBackoffBase = time.Second
)

// RetryPolicy decides whether a failed attempt is worth repeating. Only
// rate-limit responses are retried, with exponential backoff.
type RetryPolicy struct {
	MaxAttempts int
	Base        time.Duration
}

// Decision is the outcome of RetryPolicy.Decide.
type Decision struct {
	Retry bool
	Delay time.Duration
}

// DefaultRetryPolicy allows three attempts with 1s and 2s waits in between.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: DefaultMaxAttempts, Base: DefaultBackoffBase}
}

// Decide is called after attempt (zero-based) failed with err. The delay
// before attempt n+1 is Base * 2^n.
func (p RetryPolicy) Decide(attempt int, err error) Decision {
	if err == nil || !IsRateLimited(err) {
		return Decision{}
	}
	if attempt+1 >= p.MaxAttempts {
		return Decision{}
	}
	return Decision{Retry: true, Delay: p.Base << attempt}
}
