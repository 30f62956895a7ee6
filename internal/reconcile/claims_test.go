package reconcile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"railgate/internal/intent/models"
	"railgate/pkg/domain"
)

func TestInMemoryClaims(t *testing.T) {
	ctx := context.Background()
	claims := NewInMemoryClaims()
	first := domain.NewIntentID()
	second := domain.NewIntentID()

	t.Run("first claim wins", func(t *testing.T) {
		winner, err := claims.TryClaim(ctx, models.RailTron, "tx-1", first)
		require.NoError(t, err)
		assert.Equal(t, first, winner)
	})

	t.Run("replay observes the original winner", func(t *testing.T) {
		winner, err := claims.TryClaim(ctx, models.RailTron, "tx-1", second)
		require.NoError(t, err)
		assert.Equal(t, first, winner)
	})

	t.Run("winner reports the holder without claiming", func(t *testing.T) {
		winner, claimed, err := claims.Winner(ctx, models.RailTron, "tx-1")
		require.NoError(t, err)
		assert.True(t, claimed)
		assert.Equal(t, first, winner)

		_, claimed, err = claims.Winner(ctx, models.RailTron, "tx-unknown")
		require.NoError(t, err)
		assert.False(t, claimed)
	})

	t.Run("claims are scoped per rail", func(t *testing.T) {
		winner, err := claims.TryClaim(ctx, models.RailMpesa, "tx-1", second)
		require.NoError(t, err)
		assert.Equal(t, second, winner)
	})

	t.Run("release frees the transaction", func(t *testing.T) {
		require.NoError(t, claims.Release(ctx, models.RailTron, "tx-1"))
		winner, err := claims.TryClaim(ctx, models.RailTron, "tx-1", second)
		require.NoError(t, err)
		assert.Equal(t, second, winner)
	})
}
