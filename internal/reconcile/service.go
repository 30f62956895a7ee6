// Package reconcile implements the reconciliation core: creating payment
// intents, engaging rails, matching observed rail evidence to pending
// intents, and driving intents to a terminal state exactly once.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"railgate/internal/audit"
	"railgate/internal/intent/models"
	"railgate/internal/intent/store"
	"railgate/internal/rails"
	"railgate/internal/reconcile/metrics"
	"railgate/pkg/domain"
	dErrors "railgate/pkg/domain-errors"
	"railgate/pkg/platform/sentinel"
	"railgate/pkg/requestcontext"
)

// AuditPublisher records money-relevant reconciliation events.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service is the reconciliation core. All intent mutation flows through it;
// rails and stores stay mechanism-only.
//
// Concurrency model: the store serializes mutations per intent (Execute); the
// service additionally serializes candidate selection per rail, so two
// evidence records arriving together cannot both pick the same intent or
// split a contested transaction.
type Service struct {
	store    store.Store
	adapters map[models.Rail]rails.Adapter
	matcher  *Matcher
	convert  Converter
	claims   ClaimStore
	logger   *slog.Logger
	metrics  *metrics.Metrics
	audit    AuditPublisher

	// matchMu is the per-rail matching lock. It covers candidate selection
	// and the evidence transition only, never rail network calls.
	matchMu map[models.Rail]*sync.Mutex
}

// Option configures optional service collaborators.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithAuditPublisher(p AuditPublisher) Option {
	return func(s *Service) { s.audit = p }
}

// WithClaimStore installs a cross-instance evidence claim guard. Defaults to
// a process-local store.
func WithClaimStore(c ClaimStore) Option {
	return func(s *Service) { s.claims = c }
}

// New wires the reconciliation core. Every configured adapter must have a
// policy entry; rails without one are rejected at request time.
func New(st store.Store, adapters []rails.Adapter, policies Policies, convert Converter, opts ...Option) *Service {
	s := &Service{
		store:    st,
		adapters: make(map[models.Rail]rails.Adapter, len(adapters)),
		matcher:  NewMatcher(policies),
		convert:  convert,
		claims:   NewInMemoryClaims(),
		logger:   slog.Default(),
		matchMu:  make(map[models.Rail]*sync.Mutex, len(adapters)),
	}
	for _, a := range adapters {
		s.adapters[a.Rail()] = a
		s.matchMu[a.Rail()] = &sync.Mutex{}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateIntentRequest is the caller-facing creation input. ReferenceAmount is
// denominated in the reference currency (USD).
type CreateIntentRequest struct {
	Rail               string
	ReferenceAmount    decimal.Decimal
	AccountReference   string
	DestinationAddress string
}

// CreateIntent validates input, freezes the settlement amount, persists the
// intent as CREATED, engages the rail, and returns the RAIL_PENDING intent.
// When initiate fails the intent is terminally REJECTED and the failure
// propagates to the caller.
func (s *Service) CreateIntent(ctx context.Context, req CreateIntentRequest) (*models.PaymentIntent, error) {
	rail, err := models.ParseRail(req.Rail)
	if err != nil {
		return nil, err
	}
	adapter, ok := s.adapters[rail]
	if !ok {
		return nil, dErrors.Newf(dErrors.CodeValidation, "rail %s is not configured", rail)
	}
	if !req.ReferenceAmount.IsPositive() {
		return nil, dErrors.New(dErrors.CodeValidation, "reference amount must be positive")
	}
	if req.AccountReference == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "account reference is required")
	}
	if req.DestinationAddress == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "destination address is required")
	}

	now := requestcontext.Now(ctx)
	settlement := s.convert(req.ReferenceAmount, rail)

	intent, err := models.NewPaymentIntent(
		domain.NewIntentID(),
		rail,
		req.ReferenceAmount,
		settlement,
		req.AccountReference,
		req.DestinationAddress,
		now,
		s.matcher.Window(rail),
	)
	if err != nil {
		return nil, err
	}

	if err := s.store.Create(ctx, intent); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "persist intent")
	}
	s.metrics.IncCreated(rail.String())
	s.emit(ctx, audit.Event{
		IntentID: intent.ID,
		Rail:     rail,
		Action:   audit.ActionIntentCreated,
		Amount:   settlement,
	})

	start := time.Now()
	ref, err := adapter.Initiate(ctx, rails.InitiateRequest{
		DestinationAddress: intent.DestinationAddress,
		SettlementAmount:   settlement,
		AccountReference:   intent.AccountReference,
		IdempotencyKey:     intent.ID.String(),
	})
	s.metrics.ObserveInitiate(start)
	if err != nil {
		reason := fmt.Sprintf("rail initiate failed: %v", err)
		s.reject(ctx, intent.ID, rail, reason)
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "rail unavailable")
	}

	updated, err := s.store.Execute(ctx, intent.ID,
		func(p *models.PaymentIntent) error { return p.CanEngage() },
		func(p *models.PaymentIntent) { p.ApplyEngagement(ref.Value, now) },
	)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "engage intent")
	}

	s.logger.InfoContext(ctx, "intent created",
		"intent_id", intent.ID.String(),
		"rail", rail.String(),
		"settlement_amount", settlement.String(),
		"rail_reference", ref.Value,
	)
	return updated, nil
}

// GetStatus returns the current snapshot of an intent.
func (s *Service) GetStatus(ctx context.Context, id domain.IntentID) (*models.PaymentIntent, error) {
	intent, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "intent %s not found", id)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load intent")
	}
	return intent, nil
}

// Cancel terminally rejects a still-pending intent.
func (s *Service) Cancel(ctx context.Context, id domain.IntentID, reason string) (*models.PaymentIntent, error) {
	now := requestcontext.Now(ctx)
	updated, err := s.store.Execute(ctx, id,
		func(p *models.PaymentIntent) error { return p.CanReject() },
		func(p *models.PaymentIntent) { p.ApplyRejection(reason, now) },
	)
	if err != nil {
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			return nil, dErrors.Newf(dErrors.CodeNotFound, "intent %s not found", id)
		case dErrors.HasCode(err, dErrors.CodeInvariantViolation):
			return nil, dErrors.Wrap(err, dErrors.CodeConflict, "intent already terminal")
		default:
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "cancel intent")
		}
	}
	s.metrics.IncRejected(updated.Rail.String())
	s.emit(ctx, audit.Event{
		IntentID: updated.ID,
		Rail:     updated.Rail,
		Action:   audit.ActionIntentRejected,
		Reason:   reason,
	})
	return updated, nil
}

// OutcomeKind classifies one evidence ingestion.
type OutcomeKind string

const (
	OutcomeConfirmed      OutcomeKind = "confirmed"
	OutcomeDuplicate      OutcomeKind = "duplicate"
	OutcomeOutOfTolerance OutcomeKind = "out_of_tolerance"
	OutcomeNoMatch        OutcomeKind = "no_match"
	// OutcomeNoEvidence: a well-formed callback that carries no credit, e.g.
	// a declined push prompt.
	OutcomeNoEvidence OutcomeKind = "no_evidence"
)

// IngestOutcome reports what one evidence record did to the system.
type IngestOutcome struct {
	Kind     OutcomeKind
	IntentID domain.IntentID
}

// IngestCallback parses a rail push payload and applies the resulting
// evidence. Malformed payloads are logged, counted and returned as
// CodeBadRequest; they never disturb intent state.
func (s *Service) IngestCallback(ctx context.Context, rail models.Rail, payload []byte) (IngestOutcome, error) {
	adapter, ok := s.adapters[rail]
	if !ok {
		return IngestOutcome{}, dErrors.Newf(dErrors.CodeValidation, "rail %s is not configured", rail)
	}

	ev, err := adapter.ParseCallback(payload)
	if err != nil {
		s.metrics.IncMalformedCallback(rail.String())
		s.logger.WarnContext(ctx, "malformed callback dropped", "rail", rail.String(), "error", err)
		return IngestOutcome{}, dErrors.Wrap(err, dErrors.CodeBadRequest, "malformed callback")
	}
	if ev == nil {
		return IngestOutcome{Kind: OutcomeNoEvidence}, nil
	}
	return s.ingestEvidence(ctx, *ev)
}

// ingestEvidence runs the matching pipeline for one evidence record. The
// per-rail lock covers candidate selection and the state transition; the
// claim store then guards against another instance crediting the same
// external transaction to a different intent.
func (s *Service) ingestEvidence(ctx context.Context, ev models.RailEvidence) (IngestOutcome, error) {
	now := requestcontext.Now(ctx)
	if ev.ObservedAt.IsZero() {
		ev.ObservedAt = now
	}

	mu, ok := s.matchMu[ev.Rail]
	if !ok {
		return IngestOutcome{}, dErrors.Newf(dErrors.CodeValidation, "rail %s is not configured", ev.Rail)
	}
	mu.Lock()
	defer mu.Unlock()

	pending, err := s.store.ListPending(ctx, ev.Rail)
	if err != nil {
		return IngestOutcome{}, dErrors.Wrap(err, dErrors.CodeInternal, "list pending intents")
	}

	candidate := s.matcher.Match(now, ev, pending)
	if candidate == nil {
		// No pending intent matches. If the transaction was already
		// credited to an intent that has since left the pending set, this
		// is a replay, not orphan evidence.
		winner, claimed, err := s.claims.Winner(ctx, ev.Rail, ev.ExternalTxID)
		if err != nil {
			return IngestOutcome{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "look up evidence claim")
		}
		if claimed {
			s.metrics.IncEvidenceDuplicate(ev.Rail.String())
			s.emit(ctx, audit.Event{
				IntentID:     winner,
				Rail:         ev.Rail,
				Action:       audit.ActionEvidenceDuplicate,
				ExternalTxID: ev.ExternalTxID,
				Amount:       ev.Amount,
			})
			return IngestOutcome{Kind: OutcomeDuplicate, IntentID: winner}, nil
		}
		s.metrics.IncEvidenceUnmatched(ev.Rail.String())
		s.emit(ctx, audit.Event{
			Rail:         ev.Rail,
			Action:       audit.ActionEvidenceUnmatched,
			ExternalTxID: ev.ExternalTxID,
			Amount:       ev.Amount,
		})
		s.logger.InfoContext(ctx, "evidence unmatched",
			"rail", ev.Rail.String(), "external_tx_id", ev.ExternalTxID, "amount", ev.Amount.String())
		return IngestOutcome{Kind: OutcomeNoMatch}, nil
	}

	winner, err := s.claims.TryClaim(ctx, ev.Rail, ev.ExternalTxID, candidate.ID)
	if err != nil {
		return IngestOutcome{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "claim evidence")
	}
	if winner != candidate.ID {
		// Another intent already absorbed this transaction; replay is a no-op.
		s.metrics.IncEvidenceDuplicate(ev.Rail.String())
		return IngestOutcome{Kind: OutcomeDuplicate, IntentID: winner}, nil
	}

	tolerance := s.matcher.Tolerance(ev.Rail)
	var outcome models.EvidenceOutcome
	updated, err := s.store.Execute(ctx, candidate.ID, nil, func(p *models.PaymentIntent) {
		outcome = p.ApplyEvidence(ev, tolerance, now)
	})
	if err != nil {
		return IngestOutcome{}, dErrors.Wrap(err, dErrors.CodeInternal, "apply evidence")
	}

	return s.recordOutcome(ctx, updated, ev, outcome), nil
}

func (s *Service) recordOutcome(ctx context.Context, intent *models.PaymentIntent, ev models.RailEvidence, outcome models.EvidenceOutcome) IngestOutcome {
	result := IngestOutcome{IntentID: intent.ID}
	switch outcome {
	case models.EvidenceConfirmed:
		result.Kind = OutcomeConfirmed
		s.metrics.IncConfirmed(ev.Rail.String())
		s.metrics.IncEvidenceMatched(ev.Rail.String())
		s.emit(ctx, audit.Event{
			IntentID:     intent.ID,
			Rail:         ev.Rail,
			Action:       audit.ActionIntentConfirmed,
			ExternalTxID: ev.ExternalTxID,
			Amount:       ev.Amount,
		})
		s.logger.InfoContext(ctx, "intent confirmed",
			"intent_id", intent.ID.String(), "rail", ev.Rail.String(),
			"external_tx_id", ev.ExternalTxID, "amount", ev.Amount.String())

	case models.EvidenceDuplicate:
		result.Kind = OutcomeDuplicate
		s.metrics.IncEvidenceDuplicate(ev.Rail.String())
		s.emit(ctx, audit.Event{
			IntentID:     intent.ID,
			Rail:         ev.Rail,
			Action:       audit.ActionEvidenceDuplicate,
			ExternalTxID: ev.ExternalTxID,
			Amount:       ev.Amount,
		})

	case models.EvidenceOutOfTolerance:
		result.Kind = OutcomeOutOfTolerance
		s.metrics.IncEvidenceOutOfTolerance(ev.Rail.String())
		s.emit(ctx, audit.Event{
			IntentID:     intent.ID,
			Rail:         ev.Rail,
			Action:       audit.ActionEvidenceOutOfTolerance,
			ExternalTxID: ev.ExternalTxID,
			Amount:       ev.Amount,
			Reason:       "amount outside tolerance",
		})
		// The transaction did not credit the intent; let it be claimed again.
		if err := s.claims.Release(ctx, ev.Rail, ev.ExternalTxID); err != nil {
			s.logger.WarnContext(ctx, "release claim failed",
				"rail", ev.Rail.String(), "external_tx_id", ev.ExternalTxID, "error", err)
		}

	case models.EvidenceIgnored:
		// The candidate reached a terminal state between matching and the
		// transition. Free the claim so the transaction can still credit
		// another eligible intent.
		result.Kind = OutcomeNoMatch
		if err := s.claims.Release(ctx, ev.Rail, ev.ExternalTxID); err != nil {
			s.logger.WarnContext(ctx, "release claim failed",
				"rail", ev.Rail.String(), "external_tx_id", ev.ExternalTxID, "error", err)
		}

	default:
		result.Kind = OutcomeNoMatch
	}
	return result
}

// PollReport summarizes one PollOnce pass.
type PollReport struct {
	Rail      models.Rail `json:"rail"`
	Evidence  int         `json:"evidence"`
	Confirmed int         `json:"confirmed"`
	Expired   int         `json:"expired"`
}

// PollOnce runs one reconciliation pass for a rail: fetch evidence from the
// adapter, ingest each record, then expire intents past their window.
// Adapter failures degrade to an empty pass and are never returned as
// errors; the next tick retries.
func (s *Service) PollOnce(ctx context.Context, rail models.Rail) (PollReport, error) {
	adapter, ok := s.adapters[rail]
	if !ok {
		return PollReport{}, dErrors.Newf(dErrors.CodeValidation, "rail %s is not configured", rail)
	}
	start := time.Now()
	defer s.metrics.ObservePoll(start)

	report := PollReport{Rail: rail}
	for _, ev := range s.collectEvidence(ctx, rail, adapter) {
		report.Evidence++
		outcome, err := s.ingestEvidence(ctx, ev)
		if err != nil {
			s.logger.ErrorContext(ctx, "evidence ingestion failed",
				"rail", rail.String(), "external_tx_id", ev.ExternalTxID, "error", err)
			continue
		}
		if outcome.Kind == OutcomeConfirmed {
			report.Confirmed++
		}
	}

	expired, err := s.expireOverdue(ctx, rail)
	if err != nil {
		return report, err
	}
	report.Expired = expired
	return report, nil
}

// collectEvidence performs the rail network round trips outside any matching
// lock. The ledger rail is polled once for recent transfers; the push rail is
// queried per pending reference since it has no global transfer feed.
func (s *Service) collectEvidence(ctx context.Context, rail models.Rail, adapter rails.Adapter) []models.RailEvidence {
	if rail != models.RailMpesa {
		evidence, err := adapter.Poll(ctx, rails.PollQuery{})
		if err != nil {
			s.pollDegraded(ctx, rail, err)
			return nil
		}
		return evidence
	}

	pending, err := s.store.ListPending(ctx, rail)
	if err != nil {
		s.pollDegraded(ctx, rail, err)
		return nil
	}
	var evidence []models.RailEvidence
	for _, p := range pending {
		if p.RailReference == "" {
			continue
		}
		evs, err := adapter.Poll(ctx, rails.PollQuery{RailReference: p.RailReference})
		if err != nil {
			s.pollDegraded(ctx, rail, err)
			continue
		}
		evidence = append(evidence, evs...)
	}
	return evidence
}

func (s *Service) pollDegraded(ctx context.Context, rail models.Rail, err error) {
	s.metrics.IncPollError(rail.String())
	s.logger.WarnContext(ctx, "poll degraded", "rail", rail.String(), "error", err)
}

// expireOverdue terminally expires RAIL_PENDING intents past their window.
func (s *Service) expireOverdue(ctx context.Context, rail models.Rail) (int, error) {
	now := requestcontext.Now(ctx)
	pending, err := s.store.ListPending(ctx, rail)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "list pending intents")
	}

	expired := 0
	for _, p := range pending {
		if !now.After(p.ExpiresAt) {
			continue
		}
		updated, err := s.store.Execute(ctx, p.ID,
			func(p *models.PaymentIntent) error { return p.CanExpire(now) },
			func(p *models.PaymentIntent) { p.ApplyExpiry(now) },
		)
		if err != nil {
			// Lost the race against incoming evidence; the intent settled.
			if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
				continue
			}
			return expired, dErrors.Wrap(err, dErrors.CodeInternal, "expire intent")
		}
		expired++
		s.metrics.IncExpired(rail.String())
		s.emit(ctx, audit.Event{
			IntentID: updated.ID,
			Rail:     rail,
			Action:   audit.ActionIntentExpired,
		})
		s.logger.InfoContext(ctx, "intent expired", "intent_id", updated.ID.String(), "rail", rail.String())
	}
	return expired, nil
}

// reject terminally rejects an intent after an initiate failure. Best effort:
// the caller already has the primary error to report.
func (s *Service) reject(ctx context.Context, id domain.IntentID, rail models.Rail, reason string) {
	now := requestcontext.Now(ctx)
	_, err := s.store.Execute(ctx, id,
		func(p *models.PaymentIntent) error { return p.CanReject() },
		func(p *models.PaymentIntent) { p.ApplyRejection(reason, now) },
	)
	if err != nil {
		s.logger.ErrorContext(ctx, "reject after initiate failure",
			"intent_id", id.String(), "error", err)
		return
	}
	s.metrics.IncRejected(rail.String())
	s.emit(ctx, audit.Event{IntentID: id, Rail: rail, Action: audit.ActionIntentRejected, Reason: reason})
}

func (s *Service) emit(ctx context.Context, event audit.Event) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Emit(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "audit emit failed", "action", string(event.Action), "error", err)
	}
}
