//go:build integration

package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"audiovault/pkg/testutil/containers"
)

func TestRedisStoreIntegration(t *testing.T) {
	rc := containers.NewRedisContainer(t)
	store := New(rc.Client)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	t.Run("window counts and slides", func(t *testing.T) {
		require.NoError(t, rc.FlushAll(ctx))
		for i := range 3 {
			count, oldest, err := store.Hit(ctx, "10.0.0.1", now.Add(time.Duration(i)*time.Second), time.Minute)
			require.NoError(t, err)
			assert.Equal(t, i+1, count)
			assert.True(t, oldest.Equal(now), "oldest %s", oldest)
		}
		count, _, err := store.Hit(ctx, "10.0.0.1", now.Add(time.Minute+time.Second), time.Minute)
		require.NoError(t, err)
		assert.Equal(t, 2, count)

		ttl, err := rc.Client.PTTL(ctx, windowPrefix+"10.0.0.1").Result()
		require.NoError(t, err)
		assert.Positive(t, ttl)
	})

	t.Run("block and expiry", func(t *testing.T) {
		require.NoError(t, rc.FlushAll(ctx))
		require.NoError(t, store.Block(ctx, "10.0.0.9", now, time.Hour))

		until, blocked, err := store.BlockedUntil(ctx, "10.0.0.9", now.Add(time.Minute))
		require.NoError(t, err)
		assert.True(t, blocked)
		assert.True(t, until.Equal(now.Add(time.Hour)))

		_, blocked, err = store.BlockedUntil(ctx, "10.0.0.9", now.Add(2*time.Hour))
		require.NoError(t, err)
		assert.False(t, blocked)

		_, blocked, err = store.BlockedUntil(ctx, "10.0.0.10", now)
		require.NoError(t, err)
		assert.False(t, blocked)
	})
}
