package models

// State is the lifecycle position of a payment intent.
//
// Transitions:
//
//	CREATED      -> RAIL_PENDING (initiate succeeded)
//	CREATED      -> REJECTED     (initiate failed)
//	RAIL_PENDING -> CONFIRMED    (evidence matched within tolerance)
//	RAIL_PENDING -> EXPIRED      (expiry sweep past the matching window)
//	non-terminal -> REJECTED     (explicit cancel)
//
// CONFIRMED, REJECTED and EXPIRED are terminal and absorb all further
// events; that absorption is the idempotency guarantee under replayed
// evidence.
type State string

const (
	StateCreated     State = "CREATED"
	StateRailPending State = "RAIL_PENDING"
	StateConfirmed   State = "CONFIRMED"
	StateRejected    State = "REJECTED"
	StateExpired     State = "EXPIRED"
)

// IsTerminal reports whether the state absorbs all further events.
func (s State) IsTerminal() bool {
	switch s {
	case StateConfirmed, StateRejected, StateExpired:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether the lifecycle permits moving to next.
func (s State) CanTransitionTo(next State) bool {
	if s.IsTerminal() {
		return false
	}
	switch s {
	case StateCreated:
		return next == StateRailPending || next == StateRejected
	case StateRailPending:
		return next == StateConfirmed || next == StateExpired || next == StateRejected
	default:
		return false
	}
}
