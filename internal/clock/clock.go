// Package clock abstracts the few time operations courier needs so that
// retry backoff and edit throttling can be tested without real sleeps.
package clock

import "time"

// Clock is injected wherever production code would call time.Now or
// time.After directly.
type Clock interface {
	Now() time.Time

	// After returns a channel that receives once d has elapsed. If
	// d <= 0 the channel receives immediately.
	After(d time.Duration) <-chan time.Time
}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
