package memory

import (
	"context"
	"fmt"
	"sync"

	"railgate/internal/intent/models"
	"railgate/pkg/domain"
	"railgate/pkg/platform/sentinel"
)

// InMemory stores payment intents in memory for tests and single-node dev.
// The store mutex doubles as the per-intent lock: Execute holds it across
// validate and mutate, so transitions for one intent never interleave.
type InMemory struct {
	mu      sync.RWMutex
	intents map[domain.IntentID]*models.PaymentIntent
}

// New constructs an empty in-memory intent store.
func New() *InMemory {
	return &InMemory{intents: make(map[domain.IntentID]*models.PaymentIntent)}
}

func (s *InMemory) Create(_ context.Context, intent *models.PaymentIntent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.intents[intent.ID]; exists {
		return fmt.Errorf("intent %s already exists: %w", intent.ID, sentinel.ErrConflict)
	}
	s.intents[intent.ID] = intent.Clone()
	return nil
}

func (s *InMemory) FindByID(_ context.Context, id domain.IntentID) (*models.PaymentIntent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	intent, ok := s.intents[id]
	if !ok {
		return nil, fmt.Errorf("intent %s: %w", id, sentinel.ErrNotFound)
	}
	return intent.Clone(), nil
}

func (s *InMemory) ListPending(_ context.Context, rail models.Rail) ([]*models.PaymentIntent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var pending []*models.PaymentIntent
	for _, intent := range s.intents {
		if intent.Rail == rail && intent.State == models.StateRailPending {
			pending = append(pending, intent.Clone())
		}
	}
	return pending, nil
}

// Execute atomically validates and mutates one intent under the store lock.
func (s *InMemory) Execute(
	_ context.Context,
	id domain.IntentID,
	validate func(*models.PaymentIntent) error,
	mutate func(*models.PaymentIntent),
) (*models.PaymentIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	intent, ok := s.intents[id]
	if !ok {
		return nil, fmt.Errorf("intent %s: %w", id, sentinel.ErrNotFound)
	}
	if validate != nil {
		if err := validate(intent); err != nil {
			return nil, err
		}
	}
	if mutate != nil {
		mutate(intent)
	}
	return intent.Clone(), nil
}
