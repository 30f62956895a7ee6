package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"railgate/internal/intent/models"
	"railgate/pkg/domain"
	"railgate/pkg/platform/sentinel"
)

type InMemoryStoreSuite struct {
	suite.Suite
	store *InMemory
	ctx   context.Context
	now   time.Time
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.store = New()
	s.ctx = context.Background()
	s.now = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
}

func (s *InMemoryStoreSuite) newIntent(rail models.Rail) *models.PaymentIntent {
	intent, err := models.NewPaymentIntent(
		domain.NewIntentID(), rail,
		decimal.RequireFromString("10"), decimal.RequireFromString("1300"),
		"order-42", "254708374149", s.now, time.Hour,
	)
	s.Require().NoError(err)
	return intent
}

func (s *InMemoryStoreSuite) TestCreate() {
	s.Run("stores and retrieves an intent", func() {
		intent := s.newIntent(models.RailMpesa)
		s.Require().NoError(s.store.Create(s.ctx, intent))

		found, err := s.store.FindByID(s.ctx, intent.ID)
		s.Require().NoError(err)
		s.Equal(intent.ID, found.ID)
		s.Equal(models.StateCreated, found.State)
	})

	s.Run("duplicate id conflicts", func() {
		intent := s.newIntent(models.RailMpesa)
		s.Require().NoError(s.store.Create(s.ctx, intent))

		err := s.store.Create(s.ctx, intent)
		s.Require().Error(err)
		s.True(errors.Is(err, sentinel.ErrConflict))
	})

	s.Run("create keeps its own copy", func() {
		intent := s.newIntent(models.RailMpesa)
		s.Require().NoError(s.store.Create(s.ctx, intent))
		intent.AccountReference = "mutated"

		found, err := s.store.FindByID(s.ctx, intent.ID)
		s.Require().NoError(err)
		s.Equal("order-42", found.AccountReference)
	})
}

func (s *InMemoryStoreSuite) TestFindByID() {
	s.Run("unknown id is not found", func() {
		_, err := s.store.FindByID(s.ctx, domain.NewIntentID())
		s.Require().Error(err)
		s.True(errors.Is(err, sentinel.ErrNotFound))
	})
}

func (s *InMemoryStoreSuite) TestListPending() {
	engaged := func(rail models.Rail) *models.PaymentIntent {
		intent := s.newIntent(rail)
		intent.ApplyEngagement("ref-"+intent.ID.String(), s.now)
		s.Require().NoError(s.store.Create(s.ctx, intent))
		return intent
	}

	pendingMpesa := engaged(models.RailMpesa)
	engaged(models.RailTron)
	created := s.newIntent(models.RailMpesa)
	s.Require().NoError(s.store.Create(s.ctx, created))

	pending, err := s.store.ListPending(s.ctx, models.RailMpesa)
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
	s.Equal(pendingMpesa.ID, pending[0].ID)
}

func (s *InMemoryStoreSuite) TestExecute() {
	s.Run("validate and mutate run against the live record", func() {
		intent := s.newIntent(models.RailMpesa)
		s.Require().NoError(s.store.Create(s.ctx, intent))

		updated, err := s.store.Execute(s.ctx, intent.ID,
			func(p *models.PaymentIntent) error { return p.CanEngage() },
			func(p *models.PaymentIntent) { p.ApplyEngagement("ws_CO_123", s.now) },
		)
		s.Require().NoError(err)
		s.Equal(models.StateRailPending, updated.State)

		found, err := s.store.FindByID(s.ctx, intent.ID)
		s.Require().NoError(err)
		s.Equal(models.StateRailPending, found.State)
	})

	s.Run("validate failure aborts without mutating", func() {
		intent := s.newIntent(models.RailMpesa)
		intent.ApplyEngagement("ws_CO_123", s.now)
		s.Require().NoError(s.store.Create(s.ctx, intent))

		_, err := s.store.Execute(s.ctx, intent.ID,
			func(p *models.PaymentIntent) error { return p.CanEngage() },
			func(p *models.PaymentIntent) { p.ApplyEngagement("other", s.now) },
		)
		s.Require().Error(err)

		found, err := s.store.FindByID(s.ctx, intent.ID)
		s.Require().NoError(err)
		s.Equal("ws_CO_123", found.RailReference)
	})

	s.Run("unknown id is not found", func() {
		_, err := s.store.Execute(s.ctx, domain.NewIntentID(), nil, nil)
		s.Require().Error(err)
		s.True(errors.Is(err, sentinel.ErrNotFound))
	})
}
