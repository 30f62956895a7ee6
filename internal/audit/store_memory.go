package audit

import (
	"context"
	"sync"

	"railgate/pkg/domain"
)

// InMemoryStore keeps audit events in memory for tests and single-node dev.
type InMemoryStore struct {
	mu     sync.RWMutex
	events []Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Append(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *InMemoryStore) ListByIntent(_ context.Context, intentID domain.IntentID) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []Event
	for _, event := range s.events {
		if event.IntentID == intentID {
			matched = append(matched, event)
		}
	}
	return matched, nil
}
