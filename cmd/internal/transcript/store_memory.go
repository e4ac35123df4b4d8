package transcript

import (
	"context"
	"errors"
	"sync"
)

// InMemoryStore is a dev-only fallback when DB is not configured.
// Transcripts are unbounded here; production retention belongs to the
// backing store, not this layer.
type InMemoryStore struct {
	mu    sync.Mutex
	convs map[string][]Message
}

// NewInMemoryStore constructs an in-memory Store implementation.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		convs: make(map[string][]Message),
	}
}

// Close closes the store (noop for in-memory).
func (s *InMemoryStore) Close() error { return nil }

// Append adds msgs to the end of the conversation's log in order.
func (s *InMemoryStore) Append(ctx context.Context, conversationID string, msgs ...Message) error {
	if conversationID == "" {
		return errors.New("transcript: empty conversation id")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}

	s.mu.Lock()
	s.convs[conversationID] = append(s.convs[conversationID], msgs...)
	s.mu.Unlock()
	return nil
}

// ReadAll returns the full ordered transcript for conversationID.
func (s *InMemoryStore) ReadAll(ctx context.Context, conversationID string) ([]Message, error) {
	if conversationID == "" {
		return nil, errors.New("transcript: empty conversation id")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Message, len(s.convs[conversationID]))
	copy(out, s.convs[conversationID])
	return out, nil
}
