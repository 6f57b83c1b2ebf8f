// Package history keeps the ordered turns of each conversation.
package history

import "context"

// Role identifies who authored a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in a conversation. Turns are immutable once appended.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// Store owns conversation histories. Appends never reorder or drop earlier
// turns of a live conversation; Get on an unknown id returns an empty history.
// Callers serialize work per conversation id.
type Store interface {
	Append(ctx context.Context, conversationID string, turn Turn) error
	Get(ctx context.Context, conversationID string) ([]Turn, error)
}
