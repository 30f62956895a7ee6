package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"railgate/internal/intent/models"
	platformredis "railgate/internal/platform/redis"
	"railgate/pkg/domain"
	"railgate/pkg/platform/sentinel"
)

// RedisClaims is a Redis-backed ClaimStore for multi-instance deployments.
// Claims are written with SET NX and expire after their TTL, which should
// comfortably exceed the longest rail matching window.
type RedisClaims struct {
	client *platformredis.Client
	ttl    time.Duration
}

func NewRedisClaims(client *platformredis.Client, ttl time.Duration) *RedisClaims {
	return &RedisClaims{client: client, ttl: ttl}
}

func (s *RedisClaims) TryClaim(ctx context.Context, rail models.Rail, externalTxID string, intentID domain.IntentID) (domain.IntentID, error) {
	key := claimKey(rail, externalTxID)

	ok, err := s.client.SetNX(ctx, key, intentID.String(), s.ttl).Result()
	if err != nil {
		return domain.IntentID{}, fmt.Errorf("%w: claim %s: %v", sentinel.ErrUnavailable, key, err)
	}
	if ok {
		return intentID, nil
	}

	raw, err := s.client.Get(ctx, key).Result()
	if err != nil {
		return domain.IntentID{}, fmt.Errorf("%w: read claim %s: %v", sentinel.ErrUnavailable, key, err)
	}
	winner, err := domain.ParseIntentID(raw)
	if err != nil {
		return domain.IntentID{}, fmt.Errorf("corrupt claim %s: %w", key, err)
	}
	return winner, nil
}

func (s *RedisClaims) Winner(ctx context.Context, rail models.Rail, externalTxID string) (domain.IntentID, bool, error) {
	key := claimKey(rail, externalTxID)

	raw, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return domain.IntentID{}, false, nil
	}
	if err != nil {
		return domain.IntentID{}, false, fmt.Errorf("%w: read claim %s: %v", sentinel.ErrUnavailable, key, err)
	}
	winner, err := domain.ParseIntentID(raw)
	if err != nil {
		return domain.IntentID{}, false, fmt.Errorf("corrupt claim %s: %w", key, err)
	}
	return winner, true, nil
}

func (s *RedisClaims) Release(ctx context.Context, rail models.Rail, externalTxID string) error {
	if err := s.client.Del(ctx, claimKey(rail, externalTxID)).Err(); err != nil {
		return fmt.Errorf("%w: release claim: %v", sentinel.ErrUnavailable, err)
	}
	return nil
}
