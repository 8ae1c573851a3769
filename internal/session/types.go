package session

import (
	"fmt"
	"strings"
)

// Role tags a turn with who produced it.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in a conversation. Turns are values and are never
// modified after they are appended to a history.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// UserTurn, AssistantTurn and SystemTurn build turns for the given text.
func UserTurn(text string) Turn      { return Turn{Role: RoleUser, Content: text} }
func AssistantTurn(text string) Turn { return Turn{Role: RoleAssistant, Content: text} }
func SystemTurn(text string) Turn    { return Turn{Role: RoleSystem, Content: text} }

// Model selects the upstream model variant.
type Model string

const (
	ModelChat     Model = "deepseek-chat"
	ModelCoder    Model = "deepseek-coder"
	ModelReasoner Model = "deepseek-reasoner"
)

// DefaultModel is used for sessions that never picked one.
const DefaultModel = ModelChat

// Models lists the accepted variants in the order they are presented to users.
var Models = []Model{ModelChat, ModelCoder, ModelReasoner}

// ShortName returns the user-facing name, e.g. "coder".
func (m Model) ShortName() string {
	return strings.TrimPrefix(string(m), "deepseek-")
}

// ParseModel accepts either the short name ("coder") or the full upstream
// identifier ("deepseek-coder"), case-insensitively.
func ParseModel(name string) (Model, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for _, m := range Models {
		if n == string(m) || n == m.ShortName() {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown model %q", name)
}

// Session is the per-conversation state. Values returned by the Store are
// snapshots: mutating History on a returned Session does not affect the store.
type Session struct {
	History   []Turn
	Model     Model
	Streaming bool
}

// Update carries the fields a command handler wants to change. Nil fields
// are left untouched.
type Update struct {
	Model     *Model
	Streaming *bool
}

func (s Session) clone() Session {
	out := s
	if s.History != nil {
		out.History = make([]Turn, len(s.History))
		copy(out.History, s.History)
	}
	return out
}

// TrimHistory enforces the retention window. When history has grown past
// ceiling it keeps only the newest keep turns; otherwise it is returned as is.
func TrimHistory(history []Turn, ceiling, keep int) []Turn {
	if len(history) <= ceiling {
		return history
	}
	if keep < 0 {
		keep = 0
	}
	trimmed := make([]Turn, keep)
	copy(trimmed, history[len(history)-keep:])
	return trimmed
}

// LastTurns returns at most n of the newest turns, oldest first.
func LastTurns(history []Turn, n int) []Turn {
	if n <= 0 {
		return nil
	}
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}
