// Package rails defines the uniform capability interface over settlement
// rails. Adapters are thin I/O wrappers: they translate between rail wire
// formats and RailEvidence, hold no intent state, and receive all shared
// configuration (base URLs, credentials) as explicit injected structs.
package rails

import (
	"context"

	"github.com/shopspring/decimal"

	"railgate/internal/intent/models"
)

// InitiateRequest carries everything an adapter needs to engage its rail for
// one intent. IdempotencyKey is derived from the intent id; adapters pass it
// through where the rail supports it, and the orchestrator guarantees a
// single Initiate call per intent where it does not.
type InitiateRequest struct {
	DestinationAddress string
	SettlementAmount   decimal.Decimal
	AccountReference   string
	IdempotencyKey     string
}

// Reference is the rail-assigned correlation handle returned by Initiate.
type Reference struct {
	// Value is the handle the rail (or adapter) uses to correlate later
	// evidence: a checkout request id for the push rail, a deposit session
	// id for the ledger rail.
	Value string
	// DestinationAddress echoes where the payer must send funds when the
	// rail (not the caller) dictates it; empty otherwise.
	DestinationAddress string
}

// PollQuery scopes one polling round trip.
type PollQuery struct {
	// RailReference narrows the query to a single intent where the rail
	// supports per-reference status queries (push rail).
	RailReference string
	// Limit caps how many evidence records one poll may return.
	Limit int
}

// Adapter is the uniform capability each rail implements.
//
// Initiate and Poll are the only operations that block on network I/O; both
// must be called outside any lock held on other intents. Transient
// transport or auth failures wrap sentinel.ErrUnavailable.
type Adapter interface {
	Rail() models.Rail

	// Initiate engages the rail for a new intent and returns the rail
	// reference. Safe to retry only via the idempotency key.
	Initiate(ctx context.Context, req InitiateRequest) (Reference, error)

	// Poll performs a single external round trip and returns any evidence
	// observed. An empty slice means nothing is available yet; that is not
	// an error.
	Poll(ctx context.Context, query PollQuery) ([]models.RailEvidence, error)

	// ParseCallback parses an inbound push payload into evidence. Pure
	// parsing, no network I/O. Rails without a push channel reject every
	// payload.
	ParseCallback(payload []byte) (*models.RailEvidence, error)
}
