//go:build integration

package reconcile_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"railgate/internal/intent/models"
	platformredis "railgate/internal/platform/redis"
	"railgate/internal/reconcile"
	"railgate/pkg/domain"
	"railgate/pkg/testutil/containers"
)

type RedisClaimsSuite struct {
	suite.Suite
	redis  *containers.RedisContainer
	claims *reconcile.RedisClaims
}

func TestRedisClaimsSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisClaimsSuite))
}

func (s *RedisClaimsSuite) SetupSuite() {
	s.redis = containers.NewRedisContainer(s.T())
	client, err := platformredis.New(s.redis.URL)
	s.Require().NoError(err)
	s.claims = reconcile.NewRedisClaims(client, time.Hour)
}

func (s *RedisClaimsSuite) TearDownSuite() {
	s.redis.Close(context.Background())
}

func (s *RedisClaimsSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisClaimsSuite) TestClaimLifecycle() {
	ctx := context.Background()
	first := domain.NewIntentID()
	second := domain.NewIntentID()

	winner, err := s.claims.TryClaim(ctx, models.RailTron, "tx-1", first)
	s.Require().NoError(err)
	s.Equal(first, winner)

	winner, err = s.claims.TryClaim(ctx, models.RailTron, "tx-1", second)
	s.Require().NoError(err)
	s.Equal(first, winner)

	winner, claimed, err := s.claims.Winner(ctx, models.RailTron, "tx-1")
	s.Require().NoError(err)
	s.True(claimed)
	s.Equal(first, winner)

	_, claimed, err = s.claims.Winner(ctx, models.RailTron, "tx-unknown")
	s.Require().NoError(err)
	s.False(claimed)

	s.Require().NoError(s.claims.Release(ctx, models.RailTron, "tx-1"))

	winner, err = s.claims.TryClaim(ctx, models.RailTron, "tx-1", second)
	s.Require().NoError(err)
	s.Equal(second, winner)
}

// TestConcurrentClaims verifies SET NX yields a single winner under
// concurrent reconciliation passes.
func (s *RedisClaimsSuite) TestConcurrentClaims() {
	ctx := context.Background()
	const goroutines = 20

	winners := make(chan domain.IntentID, goroutines)
	for range goroutines {
		go func() {
			winner, err := s.claims.TryClaim(ctx, models.RailTron, "tx-contested", domain.NewIntentID())
			s.NoError(err)
			winners <- winner
		}()
	}

	first := <-winners
	for range goroutines - 1 {
		s.Equal(first, <-winners)
	}
}
