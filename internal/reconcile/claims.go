package reconcile

import (
	"context"
	"sync"

	"railgate/internal/intent/models"
	"railgate/pkg/domain"
)

// ClaimStore records which intent each external transaction was credited to.
// A claim is taken exactly once per (rail, externalTxID) pair; later attempts
// observe the original winner. This is the cross-instance guard against a
// single rail transaction confirming two intents.
type ClaimStore interface {
	// TryClaim atomically claims the external transaction for the given
	// intent. It returns the intent that holds the claim, which is the
	// caller's intent on a fresh claim and the prior winner on a replay.
	TryClaim(ctx context.Context, rail models.Rail, externalTxID string, intentID domain.IntentID) (domain.IntentID, error)

	// Winner reports which intent, if any, holds the claim for the
	// external transaction without taking it.
	Winner(ctx context.Context, rail models.Rail, externalTxID string) (domain.IntentID, bool, error)

	// Release drops a claim so the transaction can be claimed again.
	// Used when the claimed evidence did not end up confirming the intent.
	Release(ctx context.Context, rail models.Rail, externalTxID string) error
}

// InMemoryClaims is a process-local ClaimStore for single-instance
// deployments and tests.
type InMemoryClaims struct {
	mu     sync.Mutex
	claims map[string]domain.IntentID
}

func NewInMemoryClaims() *InMemoryClaims {
	return &InMemoryClaims{claims: make(map[string]domain.IntentID)}
}

func (s *InMemoryClaims) TryClaim(_ context.Context, rail models.Rail, externalTxID string, intentID domain.IntentID) (domain.IntentID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := claimKey(rail, externalTxID)
	if winner, ok := s.claims[key]; ok {
		return winner, nil
	}
	s.claims[key] = intentID
	return intentID, nil
}

func (s *InMemoryClaims) Winner(_ context.Context, rail models.Rail, externalTxID string) (domain.IntentID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	winner, ok := s.claims[claimKey(rail, externalTxID)]
	return winner, ok, nil
}

func (s *InMemoryClaims) Release(_ context.Context, rail models.Rail, externalTxID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claims, claimKey(rail, externalTxID))
	return nil
}

func claimKey(rail models.Rail, externalTxID string) string {
	return "claim:" + string(rail) + ":" + externalTxID
}
