package rails

import (
	"context"
	"fmt"
	"log/slog"

	"railgate/internal/intent/models"
	"railgate/pkg/platform/circuit"
	"railgate/pkg/platform/sentinel"
)

// guardedAdapter fails Initiate fast while the rail's breaker is open. Poll
// keeps going regardless: the poller runs in the background anyway, and its
// round trips are the probe that eventually closes the circuit again.
// ParseCallback is pure parsing and is never gated.
type guardedAdapter struct {
	inner   Adapter
	breaker *circuit.Breaker
	logger  *slog.Logger
}

// WithBreaker wraps an adapter so consecutive Initiate/Poll failures open a
// circuit; while open, Initiate fails fast with sentinel.ErrUnavailable
// instead of hitting the rail.
func WithBreaker(inner Adapter, breaker *circuit.Breaker, logger *slog.Logger) Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &guardedAdapter{inner: inner, breaker: breaker, logger: logger}
}

func (g *guardedAdapter) Rail() models.Rail { return g.inner.Rail() }

func (g *guardedAdapter) Initiate(ctx context.Context, req InitiateRequest) (Reference, error) {
	if g.breaker.IsOpen() {
		return Reference{}, g.shortCircuit()
	}
	ref, err := g.inner.Initiate(ctx, req)
	g.record(err)
	return ref, err
}

func (g *guardedAdapter) Poll(ctx context.Context, query PollQuery) ([]models.RailEvidence, error) {
	evidence, err := g.inner.Poll(ctx, query)
	g.record(err)
	return evidence, err
}

func (g *guardedAdapter) ParseCallback(payload []byte) (*models.RailEvidence, error) {
	return g.inner.ParseCallback(payload)
}

func (g *guardedAdapter) shortCircuit() error {
	return fmt.Errorf("%s circuit open: %w", g.breaker.Name(), sentinel.ErrUnavailable)
}

func (g *guardedAdapter) record(err error) {
	if err != nil {
		if _, change := g.breaker.RecordFailure(); change.Opened {
			g.logger.Warn("rail circuit opened",
				slog.String("rail", string(g.inner.Rail())))
		}
		return
	}
	if _, change := g.breaker.RecordSuccess(); change.Closed {
		g.logger.Info("rail circuit closed",
			slog.String("rail", string(g.inner.Rail())))
	}
}
