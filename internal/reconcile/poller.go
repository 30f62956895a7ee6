package reconcile

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"railgate/internal/intent/models"
	"railgate/pkg/requestcontext"
)

// Poller drives the reconciliation loop: every interval it runs one PollOnce
// pass per rail, fanning out across rails concurrently. Pass failures are
// logged and retried on the next tick; the loop only stops when the context
// is cancelled.
type Poller struct {
	service  *Service
	rails    []models.Rail
	interval time.Duration
	logger   *slog.Logger
}

func NewPoller(service *Service, railList []models.Rail, interval time.Duration, logger *slog.Logger) *Poller {
	return &Poller{
		service:  service,
		rails:    railList,
		interval: interval,
		logger:   logger,
	}
}

// Run blocks until ctx is cancelled. Each tick stamps one consistent time
// into the context so every expiry and matching decision within the pass
// observes the same clock.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("poller started", "interval", p.interval.String(), "rails", len(p.rails))
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poller stopped")
			return
		case tick := <-ticker.C:
			p.runPass(requestcontext.WithTime(ctx, tick.UTC()))
		}
	}
}

func (p *Poller) runPass(ctx context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	for _, rail := range p.rails {
		rail := rail
		g.Go(func() error {
			report, err := p.service.PollOnce(ctx, rail)
			if err != nil {
				p.logger.Error("poll pass failed", "rail", rail.String(), "error", err)
				return nil
			}
			if report.Evidence > 0 || report.Expired > 0 {
				p.logger.Info("poll pass",
					"rail", rail.String(),
					"evidence", report.Evidence,
					"confirmed", report.Confirmed,
					"expired", report.Expired,
				)
			}
			return nil
		})
	}
	_ = g.Wait()
}
