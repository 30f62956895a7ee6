package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// RailEvidence is a rail-reported fact that may confirm an intent. It arrives
// either through an inbound callback (push rail) or a polling pass (both
// rails) and carries no intent reference of its own; correlation is the
// matcher's job.
type RailEvidence struct {
	Rail   Rail            `json:"rail"`
	Amount decimal.Decimal `json:"amount"`
	// ExternalTxID is the rail-assigned transaction id, globally unique per
	// rail. It is the deduplication key for replayed deliveries.
	ExternalTxID string `json:"external_tx_id"`
	// MatchKey locates a candidate intent. For the push rail this is the
	// checkout request id echoed back by the rail, matched against the
	// intent's rail reference; the ledger rail carries no correlating
	// field, so MatchKey is empty and matching is fuzzy.
	MatchKey string `json:"match_key,omitempty"`
	// CounterpartyAddress is the sender address (ledger rail only).
	CounterpartyAddress string `json:"counterparty_address,omitempty"`
	// DestinationAddress is the receiving target the evidence was observed
	// against (ledger rail only).
	DestinationAddress string    `json:"destination_address,omitempty"`
	ObservedAt         time.Time `json:"observed_at"`
	// Raw retains the source payload for audit.
	Raw json.RawMessage `json:"raw,omitempty"`
}

// EvidenceNote records evidence that reached an intent but did not confirm it
// (out-of-tolerance amount, e.g. a partial payment). The intent stays
// RAIL_PENDING; the note is the audit trail the operator can act on.
type EvidenceNote struct {
	ExternalTxID string          `json:"external_tx_id"`
	Amount       decimal.Decimal `json:"amount"`
	ObservedAt   time.Time       `json:"observed_at"`
	Reason       string          `json:"reason"`
}
