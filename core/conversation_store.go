package core

import "context"

// DefaultMaxMessages bounds a conversation log (ten user/assistant rounds).
const DefaultMaxMessages = 20

// ConversationStore keeps a bounded, ordered message log per session.
//
// Contract:
//   - Append concatenates and then evicts the oldest entries until the log
//     holds at most the configured maximum. Appends to the same session are
//     serialized; different sessions never block each other.
//   - Get returns a snapshot copy, never nil.
//   - Clear removes the record entirely.
type ConversationStore interface {
	Append(ctx context.Context, sessionID string, msgs ...Message) error
	Get(ctx context.Context, sessionID string) ([]Message, error)
	Clear(ctx context.Context, sessionID string) error
}
