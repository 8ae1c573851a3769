package delivery

import "fmt"

// TransportError reports a failed send, edit or typing call. The answer may
// already exist upstream; the turn still counts as failed for the user.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
