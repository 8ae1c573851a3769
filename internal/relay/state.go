package relay

import (
	"time"

	"github.com/google/uuid"
)

// State is the position of a turn in its lifecycle.
type State int

const (
	Received State = iota
	ContextBuilt
	AwaitingUpstream
	Delivered
	Failed
)

var stateNames = [...]string{
	Received:         "RECEIVED",
	ContextBuilt:     "CONTEXT_BUILT",
	AwaitingUpstream: "AWAITING_UPSTREAM",
	Delivered:        "DELIVERED",
	Failed:           "FAILED",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool { return s == Delivered || s == Failed }

// TurnRecord describes a finished turn. It carries metadata only; message
// text never leaves the session store.
type TurnRecord struct {
	ID          uuid.UUID
	ChatID      int64
	Model       string
	Mode        string
	State       State
	ErrorClass  string
	HistoryLen  int
	ReplyLength int
	StartedAt   time.Time
	Duration    time.Duration
}
