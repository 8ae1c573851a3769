package relay

import "fmt"

// ValidationError rejects input that is not a conversational turn: empty
// text or a command. It is not reported to the user.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid input: %s", e.Reason)
}
