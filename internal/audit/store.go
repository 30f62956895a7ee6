package audit

import (
	"context"

	"railgate/pkg/domain"
)

// Store is an append-only sink for audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByIntent(ctx context.Context, intentID domain.IntentID) ([]Event, error)
}
