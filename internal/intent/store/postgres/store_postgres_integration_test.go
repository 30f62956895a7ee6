//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"railgate/internal/intent/models"
	"railgate/internal/intent/store/postgres"
	"railgate/pkg/domain"
	"railgate/pkg/platform/sentinel"
	"railgate/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	pg    *containers.PostgresContainer
	store *postgres.Store
	now   time.Time
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.pg = containers.NewPostgresContainer(s.T())
	s.Require().NoError(postgres.Migrate(context.Background(), s.pg.DB))
	s.store = postgres.New(s.pg.DB)
}

func (s *PostgresStoreSuite) TearDownSuite() {
	s.pg.Close(context.Background())
}

func (s *PostgresStoreSuite) SetupTest() {
	s.now = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	s.Require().NoError(s.pg.TruncateTables(context.Background(), "payment_intents"))
}

func (s *PostgresStoreSuite) newPendingIntent(rail models.Rail) *models.PaymentIntent {
	intent, err := models.NewPaymentIntent(
		domain.NewIntentID(), rail,
		decimal.RequireFromString("10"), decimal.RequireFromString("1300"),
		"order-42", "254708374149", s.now, time.Hour,
	)
	s.Require().NoError(err)
	intent.ApplyEngagement("ws_CO_"+intent.ID.String(), s.now)
	return intent
}

func (s *PostgresStoreSuite) TestRoundTrip() {
	ctx := context.Background()
	intent := s.newPendingIntent(models.RailMpesa)
	intent.ApplyEvidence(models.RailEvidence{
		Rail:         models.RailMpesa,
		Amount:       decimal.RequireFromString("1300"),
		ExternalTxID: "NLJ7RT61SV",
		MatchKey:     intent.RailReference,
		ObservedAt:   s.now.Add(time.Minute),
	}, decimal.Zero, s.now.Add(time.Minute))

	s.Require().NoError(s.store.Create(ctx, intent))

	found, err := s.store.FindByID(ctx, intent.ID)
	s.Require().NoError(err)
	s.Equal(intent.ID, found.ID)
	s.Equal(models.StateConfirmed, found.State)
	s.True(found.SettlementAmount.Equal(intent.SettlementAmount))
	s.Require().NotNil(found.Evidence)
	s.Equal("NLJ7RT61SV", found.Evidence.ExternalTxID)
	s.Equal([]string{"NLJ7RT61SV"}, found.SeenTxIDs)
	s.True(found.ExpiresAt.Equal(intent.ExpiresAt))
}

func (s *PostgresStoreSuite) TestCreateConflict() {
	ctx := context.Background()
	intent := s.newPendingIntent(models.RailMpesa)
	s.Require().NoError(s.store.Create(ctx, intent))

	err := s.store.Create(ctx, intent)
	s.Require().Error(err)
	s.True(errors.Is(err, sentinel.ErrConflict))
}

func (s *PostgresStoreSuite) TestFindUnknown() {
	_, err := s.store.FindByID(context.Background(), domain.NewIntentID())
	s.Require().Error(err)
	s.True(errors.Is(err, sentinel.ErrNotFound))
}

func (s *PostgresStoreSuite) TestListPending() {
	ctx := context.Background()

	pending := s.newPendingIntent(models.RailTron)
	s.Require().NoError(s.store.Create(ctx, pending))
	s.Require().NoError(s.store.Create(ctx, s.newPendingIntent(models.RailMpesa)))

	confirmed := s.newPendingIntent(models.RailTron)
	confirmed.ApplyEvidence(models.RailEvidence{
		Rail:         models.RailTron,
		Amount:       decimal.RequireFromString("1300"),
		ExternalTxID: "tx-1",
		ObservedAt:   s.now,
	}, decimal.Zero, s.now)
	s.Require().NoError(s.store.Create(ctx, confirmed))

	got, err := s.store.ListPending(ctx, models.RailTron)
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal(pending.ID, got[0].ID)
}

func (s *PostgresStoreSuite) TestExecute() {
	ctx := context.Background()

	s.Run("persists the mutation", func() {
		intent := s.newPendingIntent(models.RailMpesa)
		s.Require().NoError(s.store.Create(ctx, intent))

		updated, err := s.store.Execute(ctx, intent.ID,
			func(p *models.PaymentIntent) error { return p.CanReject() },
			func(p *models.PaymentIntent) { p.ApplyRejection("operator cancel", s.now) },
		)
		s.Require().NoError(err)
		s.Equal(models.StateRejected, updated.State)

		found, err := s.store.FindByID(ctx, intent.ID)
		s.Require().NoError(err)
		s.Equal(models.StateRejected, found.State)
		s.Equal("operator cancel", found.RejectReason)
	})

	s.Run("validate failure leaves the row untouched", func() {
		intent := s.newPendingIntent(models.RailMpesa)
		s.Require().NoError(s.store.Create(ctx, intent))

		_, err := s.store.Execute(ctx, intent.ID,
			func(p *models.PaymentIntent) error { return p.CanEngage() },
			func(p *models.PaymentIntent) { p.ApplyEngagement("other", s.now) },
		)
		s.Require().Error(err)

		found, err := s.store.FindByID(ctx, intent.ID)
		s.Require().NoError(err)
		s.Equal(intent.RailReference, found.RailReference)
	})
}

// TestConcurrentEvidence verifies the row lock serializes evidence: fifty
// replays of the same transaction confirm exactly once.
func (s *PostgresStoreSuite) TestConcurrentEvidence() {
	ctx := context.Background()
	intent := s.newPendingIntent(models.RailMpesa)
	s.Require().NoError(s.store.Create(ctx, intent))

	ev := models.RailEvidence{
		Rail:         models.RailMpesa,
		Amount:       decimal.RequireFromString("1300"),
		ExternalTxID: "NLJ7RT61SV",
		MatchKey:     intent.RailReference,
		ObservedAt:   s.now,
	}

	const goroutines = 50
	var wg sync.WaitGroup
	var confirmed, duplicate atomic.Int32

	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.Execute(ctx, intent.ID, nil, func(p *models.PaymentIntent) {
				switch p.ApplyEvidence(ev, decimal.Zero, s.now) {
				case models.EvidenceConfirmed:
					confirmed.Add(1)
				case models.EvidenceDuplicate:
					duplicate.Add(1)
				}
			})
			s.NoError(err)
		}()
	}
	wg.Wait()

	s.Equal(int32(1), confirmed.Load(), "exactly one replay should confirm")
	s.Equal(int32(goroutines-1), duplicate.Load())

	found, err := s.store.FindByID(ctx, intent.ID)
	s.Require().NoError(err)
	s.Equal(models.StateConfirmed, found.State)
	s.Equal([]string{"NLJ7RT61SV"}, found.SeenTxIDs)
}
