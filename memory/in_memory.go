package memory

import (
	"context"
	"sync"

	"github.com/hupe1980/lang2file/core"
)

// Options configures the conversation stores.
type Options struct {
	// MaxMessages bounds each conversation. Zero selects core.DefaultMaxMessages.
	MaxMessages int
}

func newOptions(optFns ...func(o *Options)) Options {
	opts := Options{MaxMessages: core.DefaultMaxMessages}
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.MaxMessages <= 0 {
		opts.MaxMessages = core.DefaultMaxMessages
	}

	return opts
}

// conversation is one session's log. Its own mutex serializes appends to the
// session without blocking other sessions.
type conversation struct {
	mu       sync.Mutex
	messages []core.Message
	cleared  bool
}

// InMemoryStore is a process-local ConversationStore.
//
// Concurrency: the store mutex only guards the session map; message slices
// are guarded per session.
type InMemoryStore struct {
	mu            sync.Mutex
	conversations map[string]*conversation
	maxMessages   int
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore(optFns ...func(o *Options)) *InMemoryStore {
	opts := newOptions(optFns...)

	return &InMemoryStore{
		conversations: make(map[string]*conversation),
		maxMessages:   opts.MaxMessages,
	}
}

// MaxMessages returns the configured bound.
func (s *InMemoryStore) MaxMessages() int { return s.maxMessages }

func (s *InMemoryStore) lookup(sessionID string, create bool) *conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[sessionID]
	if !ok && create {
		c = &conversation{}
		s.conversations[sessionID] = c
	}

	return c
}

// Append adds messages to the session log and evicts the oldest entries
// beyond the bound.
func (s *InMemoryStore) Append(ctx context.Context, sessionID string, msgs ...core.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if len(msgs) == 0 {
		return nil
	}

	for {
		c := s.lookup(sessionID, true)

		c.mu.Lock()
		if c.cleared {
			// Clear removed this record between lookup and lock; retry on a fresh one.
			c.mu.Unlock()
			continue
		}

		c.messages = trim(append(c.messages, msgs...), s.maxMessages)
		c.mu.Unlock()

		return nil
	}
}

// Get returns a copy of the session log. Unknown sessions yield an empty slice.
func (s *InMemoryStore) Get(ctx context.Context, sessionID string) ([]core.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c := s.lookup(sessionID, false)
	if c == nil {
		return []core.Message{}, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]core.Message, len(c.messages))
	copy(out, c.messages)

	return out, nil
}

// Clear removes the session log.
func (s *InMemoryStore) Clear(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	c, ok := s.conversations[sessionID]
	delete(s.conversations, sessionID)
	s.mu.Unlock()

	if ok {
		c.mu.Lock()
		c.cleared = true
		c.messages = nil
		c.mu.Unlock()
	}

	return nil
}

// Sessions returns the number of live session records.
func (s *InMemoryStore) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conversations)
}

// trim keeps the newest max messages. The result never aliases a dropped prefix.
func trim(msgs []core.Message, max int) []core.Message {
	if len(msgs) <= max {
		return msgs
	}

	out := make([]core.Message, max)
	copy(out, msgs[len(msgs)-max:])

	return out
}
