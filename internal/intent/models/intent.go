package models

import (
	"time"

	"github.com/shopspring/decimal"

	"railgate/pkg/domain"
	dErrors "railgate/pkg/domain-errors"
)

// PaymentIntent is the aggregate root of the reconciliation core: a request
// to receive a specific amount via a specific rail, tracked until a terminal
// outcome.
//
// Invariants:
//   - ReferenceAmount and SettlementAmount are positive and immutable
//   - SettlementAmount is computed once at creation and never recomputed;
//     it is the single source of truth for matching
//   - RailReference is assigned at most once (when initiate succeeds)
//   - At most one evidence record ever causes the CONFIRMED transition
//   - Terminal states absorb all further events
//
// All mutation goes through the Apply* methods, executed under the store's
// per-intent lock (Execute callbacks), so two evidence deliveries for the
// same intent never interleave.
type PaymentIntent struct {
	ID               domain.IntentID `json:"id"`
	Rail             Rail            `json:"rail"`
	ReferenceAmount  decimal.Decimal `json:"reference_amount"`
	SettlementAmount decimal.Decimal `json:"settlement_amount"`
	// AccountReference is the opaque caller-supplied correlation string; the
	// push rail echoes it back in callbacks, making it the exact-match key.
	AccountReference string `json:"account_reference"`
	// DestinationAddress is the payer-visible target: a phone number for the
	// push rail, the receiving ledger address for the token rail.
	DestinationAddress string `json:"destination_address"`
	// RailReference is the rail-assigned correlation handle (checkout id or
	// deposit session id), set once initiate succeeds.
	RailReference string `json:"rail_reference,omitempty"`
	State         State  `json:"state"`
	// Evidence is the record that caused CONFIRMED, retained for audit.
	Evidence *RailEvidence `json:"evidence,omitempty"`
	// EvidenceNotes records matched-but-not-confirming evidence (partial
	// payments) while the intent stays RAIL_PENDING.
	EvidenceNotes []EvidenceNote `json:"evidence_notes,omitempty"`
	// SeenTxIDs deduplicates replayed evidence per intent.
	SeenTxIDs    []string  `json:"seen_tx_ids,omitempty"`
	RejectReason string    `json:"reject_reason,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewPaymentIntent validates creation input and builds a CREATED intent.
// The matching window is rail-specific configuration supplied by the caller.
func NewPaymentIntent(
	id domain.IntentID,
	rail Rail,
	referenceAmount decimal.Decimal,
	settlementAmount decimal.Decimal,
	accountReference string,
	destinationAddress string,
	now time.Time,
	matchingWindow time.Duration,
) (*PaymentIntent, error) {
	if id.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "intent id is required")
	}
	if _, err := ParseRail(string(rail)); err != nil {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "intent rail is invalid")
	}
	if !referenceAmount.IsPositive() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "reference amount must be positive")
	}
	if !settlementAmount.IsPositive() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "settlement amount must be positive")
	}
	if accountReference == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "account reference is required")
	}
	if destinationAddress == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "destination address is required")
	}
	if matchingWindow <= 0 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "matching window must be positive")
	}
	return &PaymentIntent{
		ID:                 id,
		Rail:               rail,
		ReferenceAmount:    referenceAmount,
		SettlementAmount:   settlementAmount,
		AccountReference:   accountReference,
		DestinationAddress: destinationAddress,
		State:              StateCreated,
		CreatedAt:          now,
		ExpiresAt:          now.Add(matchingWindow),
		UpdatedAt:          now,
	}, nil
}

// CanEngage checks the CREATED -> RAIL_PENDING transition.
func (p *PaymentIntent) CanEngage() error {
	if !p.State.CanTransitionTo(StateRailPending) {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "intent in state %s cannot be engaged", p.State)
	}
	return nil
}

// ApplyEngagement records the rail reference once initiate succeeded.
// Call CanEngage first; both run inside the store's Execute lock.
func (p *PaymentIntent) ApplyEngagement(railReference string, now time.Time) {
	p.RailReference = railReference
	p.State = StateRailPending
	p.UpdatedAt = now
}

// CanReject checks that the intent is still non-terminal.
func (p *PaymentIntent) CanReject() error {
	if p.State.IsTerminal() {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "intent in state %s cannot be rejected", p.State)
	}
	return nil
}

// ApplyRejection terminates the intent. Used for initiate failures and for
// explicit cancellation.
func (p *PaymentIntent) ApplyRejection(reason string, now time.Time) {
	p.State = StateRejected
	p.RejectReason = reason
	p.UpdatedAt = now
}

// CanExpire checks the expiry guard: RAIL_PENDING (or never engaged) with
// now strictly past the matching window.
func (p *PaymentIntent) CanExpire(now time.Time) error {
	if p.State.IsTerminal() {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "intent in state %s cannot expire", p.State)
	}
	if !now.After(p.ExpiresAt) {
		return dErrors.New(dErrors.CodeInvariantViolation, "intent is still within its matching window")
	}
	return nil
}

// ApplyExpiry terminates the intent after the matching window elapsed.
func (p *PaymentIntent) ApplyExpiry(now time.Time) {
	p.State = StateExpired
	p.UpdatedAt = now
}

// EvidenceOutcome classifies what applying one evidence record did.
type EvidenceOutcome string

const (
	// EvidenceConfirmed: first matching evidence within tolerance; terminal.
	EvidenceConfirmed EvidenceOutcome = "confirmed"
	// EvidenceDuplicate: the external transaction was already recorded on
	// this intent; state unchanged.
	EvidenceDuplicate EvidenceOutcome = "duplicate"
	// EvidenceOutOfTolerance: matched but the amount deviates beyond the
	// allowed fraction; recorded as a note, state stays RAIL_PENDING.
	EvidenceOutOfTolerance EvidenceOutcome = "out_of_tolerance"
	// EvidenceIgnored: the intent is terminal (or not yet engaged); the
	// event is absorbed without effect.
	EvidenceIgnored EvidenceOutcome = "ignored"
)

// ApplyEvidence is the single mutating entry point for rail evidence. It is
// idempotent under replay: the same ExternalTxID never confirms twice, and
// terminal states absorb everything.
//
// The tolerance is the rail-configured allowed fraction; the inclusive bound
// |amount - settlement| <= tolerance * settlement accepts evidence exactly on
// the boundary.
func (p *PaymentIntent) ApplyEvidence(ev RailEvidence, tolerance decimal.Decimal, now time.Time) EvidenceOutcome {
	if p.State.IsTerminal() {
		return p.terminalOutcome(ev)
	}
	if p.State != StateRailPending {
		return EvidenceIgnored
	}
	if p.hasSeen(ev.ExternalTxID) {
		return EvidenceDuplicate
	}
	p.SeenTxIDs = append(p.SeenTxIDs, ev.ExternalTxID)
	if !p.WithinTolerance(ev.Amount, tolerance) {
		p.EvidenceNotes = append(p.EvidenceNotes, EvidenceNote{
			ExternalTxID: ev.ExternalTxID,
			Amount:       ev.Amount,
			ObservedAt:   ev.ObservedAt,
			Reason:       "amount outside tolerance",
		})
		p.UpdatedAt = now
		return EvidenceOutOfTolerance
	}
	evidence := ev
	p.Evidence = &evidence
	p.State = StateConfirmed
	p.UpdatedAt = now
	return EvidenceConfirmed
}

// WithinTolerance reports whether the observed amount is acceptably close to
// the settlement amount. The bound is inclusive.
func (p *PaymentIntent) WithinTolerance(amount, tolerance decimal.Decimal) bool {
	delta := amount.Sub(p.SettlementAmount).Abs()
	allowed := tolerance.Mul(p.SettlementAmount)
	return delta.Cmp(allowed) <= 0
}

// AmountDelta returns |amount - settlement| for tie-breaking.
func (p *PaymentIntent) AmountDelta(amount decimal.Decimal) decimal.Decimal {
	return amount.Sub(p.SettlementAmount).Abs()
}

// Clone returns a deep copy so stores can hand out snapshots without
// exposing their authoritative record.
func (p *PaymentIntent) Clone() *PaymentIntent {
	copied := *p
	if p.Evidence != nil {
		ev := *p.Evidence
		copied.Evidence = &ev
	}
	if p.EvidenceNotes != nil {
		copied.EvidenceNotes = append([]EvidenceNote(nil), p.EvidenceNotes...)
	}
	if p.SeenTxIDs != nil {
		copied.SeenTxIDs = append([]string(nil), p.SeenTxIDs...)
	}
	return &copied
}

func (p *PaymentIntent) terminalOutcome(ev RailEvidence) EvidenceOutcome {
	if p.hasSeen(ev.ExternalTxID) {
		return EvidenceDuplicate
	}
	return EvidenceIgnored
}

func (p *PaymentIntent) hasSeen(externalTxID string) bool {
	for _, seen := range p.SeenTxIDs {
		if seen == externalTxID {
			return true
		}
	}
	return false
}
