package reconcile

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"railgate/internal/intent/models"
)

// RailPolicy holds the matching parameters for one rail.
type RailPolicy struct {
	// MatchingWindow bounds both intent lifetime and fuzzy-match recency.
	MatchingWindow time.Duration
	// Tolerance is the relative amount tolerance for fuzzy matching,
	// e.g. 0.01 for one percent. Zero means exact amounts only.
	Tolerance decimal.Decimal
}

// Policies maps each rail to its matching parameters.
type Policies map[models.Rail]RailPolicy

// Matcher selects which pending intent, if any, a piece of rail evidence
// credits. Push-rail evidence carries the intent's rail reference and matches
// exactly; ledger-rail evidence carries no reference and is matched by
// destination, amount tolerance and recency.
type Matcher struct {
	policies Policies
}

func NewMatcher(policies Policies) *Matcher {
	return &Matcher{policies: policies}
}

// Tolerance returns the configured tolerance for a rail.
func (m *Matcher) Tolerance(rail models.Rail) decimal.Decimal {
	return m.policies[rail].Tolerance
}

// Window returns the configured matching window for a rail.
func (m *Matcher) Window(rail models.Rail) time.Duration {
	return m.policies[rail].MatchingWindow
}

// Match returns the pending intent the evidence credits, or nil when no
// candidate qualifies. Matching is deterministic: given the same evidence and
// candidate set it always returns the same intent.
func (m *Matcher) Match(now time.Time, ev models.RailEvidence, pending []*models.PaymentIntent) *models.PaymentIntent {
	if ev.MatchKey != "" {
		return matchByReference(ev, pending)
	}
	return m.matchFuzzy(now, ev, pending)
}

// matchByReference finds the single intent whose rail reference equals the
// evidence match key. Rail references are unique per intent, so at most one
// candidate exists.
func matchByReference(ev models.RailEvidence, pending []*models.PaymentIntent) *models.PaymentIntent {
	for _, p := range pending {
		if p.RailReference != "" && p.RailReference == ev.MatchKey {
			return p
		}
	}
	return nil
}

// matchFuzzy selects among intents sharing the evidence's destination address.
// A candidate qualifies when the evidence was observed after the intent was
// created, the intent is still inside its matching window, and the amount
// delta is within tolerance. Ties break on smallest delta, then earliest
// creation time.
func (m *Matcher) matchFuzzy(now time.Time, ev models.RailEvidence, pending []*models.PaymentIntent) *models.PaymentIntent {
	policy := m.policies[ev.Rail]

	var candidates []*models.PaymentIntent
	for _, p := range pending {
		if p.DestinationAddress != ev.DestinationAddress {
			continue
		}
		if ev.ObservedAt.Before(p.CreatedAt) {
			continue
		}
		if now.Sub(p.CreatedAt) > policy.MatchingWindow {
			continue
		}
		if !p.WithinTolerance(ev.Amount, policy.Tolerance) {
			continue
		}
		candidates = append(candidates, p)
	}
	if len(candidates) == 0 {
		return nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		di := candidates[i].AmountDelta(ev.Amount)
		dj := candidates[j].AmountDelta(ev.Amount)
		if cmp := di.Cmp(dj); cmp != 0 {
			return cmp < 0
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})
	return candidates[0]
}
