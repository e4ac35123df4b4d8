package history

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// InMemoryStore is a dev and test fallback when no DB is configured.
type InMemoryStore struct {
	mu    sync.Mutex
	types map[string]map[string]struct{}
}

// NewInMemoryStore constructs an in-memory Store implementation.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		types: make(map[string]map[string]struct{}),
	}
}

// Close closes the store (noop for in-memory).
func (s *InMemoryStore) Close() error { return nil }

// Record marks conversationID as known under businessType. Duplicates are a no-op.
func (s *InMemoryStore) Record(ctx context.Context, businessType, conversationID string) error {
	if businessType == "" || conversationID == "" {
		return errors.New("history: empty business type or conversation id")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.types[businessType]
	if ids == nil {
		ids = make(map[string]struct{})
		s.types[businessType] = ids
	}
	ids[conversationID] = struct{}{}
	return nil
}

// ListIDs returns all recorded ids for businessType, sorted ascending.
func (s *InMemoryStore) ListIDs(ctx context.Context, businessType string) ([]string, error) {
	if businessType == "" {
		return nil, errors.New("history: empty business type")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	ids := s.types[businessType]
	out := make([]string, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	s.mu.Unlock()

	sort.Strings(out)
	return out, nil
}
