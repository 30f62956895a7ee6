// Package store defines the persistence contract for payment intents.
//
// Stores are interface-driven so the reconciliation core can run against
// in-memory persistence in tests and Postgres in production without
// rewiring business code.
package store

import (
	"context"

	"railgate/internal/intent/models"
	"railgate/pkg/domain"
)

// Store owns durable persistence of payment intents. The reconciliation core
// owns the authoritative copy during an operation and writes back before
// returning.
//
// Error contract:
//   - FindByID and Execute return sentinel.ErrNotFound (wrapped) for unknown ids
//   - Create returns sentinel.ErrConflict (wrapped) for duplicate ids
//   - infrastructure failures come back wrapped with context
type Store interface {
	Create(ctx context.Context, intent *models.PaymentIntent) error
	FindByID(ctx context.Context, id domain.IntentID) (*models.PaymentIntent, error)
	// ListPending returns all RAIL_PENDING intents for a rail, unordered.
	ListPending(ctx context.Context, rail models.Rail) ([]*models.PaymentIntent, error)
	// Execute atomically runs validate then mutate against the current
	// record, holding the per-intent lock (mutex or FOR UPDATE) across both,
	// and persists the result. This is the per-intent exclusivity rule: all
	// mutations to a given intent are serialized, released on every exit
	// path. A validate error aborts without mutating.
	Execute(
		ctx context.Context,
		id domain.IntentID,
		validate func(*models.PaymentIntent) error,
		mutate func(*models.PaymentIntent),
	) (*models.PaymentIntent, error)
}
