package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/fieldops/testkit"
)

func TestDistributedLimiter(t *testing.T) {
	testkit.RequireDocker(t)
	conn := testkit.NewRedisConnector(t)
	ctx := testkit.NewContext(t, 2*time.Minute)

	newLimiter := func() Limiter {
		l, err := New(&Config{Mode: ModeDistributed, Prefix: "test:" + testkit.NewID() + ":"},
			WithRedisConnector(conn), WithLogger(testkit.NewLogger()))
		require.NoError(t, err)
		return l
	}

	t.Run("burst then deny", func(t *testing.T) {
		l := newLimiter()
		limit := Limit{Rate: 0.01, Burst: 3}
		for i := 0; i < 3; i++ {
			ok, err := l.Allow(ctx, "user:acme/1", limit)
			require.NoError(t, err)
			assert.True(t, ok)
		}
		ok, err := l.Allow(ctx, "user:acme/1", limit)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("instances share quota", func(t *testing.T) {
		prefix := "test:" + testkit.NewID() + ":"
		mk := func() Limiter {
			l, err := New(&Config{Mode: ModeDistributed, Prefix: prefix}, WithRedisConnector(conn))
			require.NoError(t, err)
			return l
		}
		a, b := mk(), mk()
		limit := Limit{Rate: 0.01, Burst: 2}

		ok, _ := a.Allow(ctx, "k", limit)
		assert.True(t, ok)
		ok, _ = b.Allow(ctx, "k", limit)
		assert.True(t, ok)
		ok, _ = a.Allow(ctx, "k", limit)
		assert.False(t, ok)
	})

	t.Run("allowN does not consume on reject", func(t *testing.T) {
		l := newLimiter()
		limit := Limit{Rate: 0.01, Burst: 4}
		ok, err := l.AllowN(ctx, "k", limit, 5)
		require.NoError(t, err)
		assert.False(t, ok)
		ok, err = l.AllowN(ctx, "k", limit, 4)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("canceled context", func(t *testing.T) {
		l := newLimiter()
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := l.Allow(cctx, "k", Limit{Rate: 1, Burst: 1})
		assert.Error(t, err)
	})
}
