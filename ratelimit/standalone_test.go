package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/fieldops/metrics"
	"github.com/ceyewan/fieldops/testkit"
)

func newStandaloneForTest(t *testing.T, opts ...Option) Limiter {
	t.Helper()
	l, err := New(&Config{}, append([]Option{WithLogger(testkit.NewLogger())}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrConfigNil)

	_, err = New(&Config{Mode: "cluster"})
	assert.Error(t, err)

	_, err = New(&Config{Mode: ModeDistributed})
	assert.ErrorIs(t, err, ErrConnectorNil)
}

func TestStandaloneBurst(t *testing.T) {
	l := newStandaloneForTest(t)
	ctx := context.Background()
	limit := Limit{Rate: 0.001, Burst: 3}

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "user:acme/1", limit)
		require.NoError(t, err)
		assert.True(t, ok, "request %d within burst", i)
	}
	ok, err := l.Allow(ctx, "user:acme/1", limit)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = l.Allow(ctx, "user:acme/2", limit)
	require.NoError(t, err)
	assert.True(t, ok, "keys have independent buckets")
}

func TestStandaloneAllowN(t *testing.T) {
	l := newStandaloneForTest(t)
	ctx := context.Background()
	limit := Limit{Rate: 0.001, Burst: 5}

	ok, err := l.AllowN(ctx, "k", limit, 6)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = l.AllowN(ctx, "k", limit, 5)
	require.NoError(t, err)
	assert.True(t, ok, "rejected AllowN does not consume tokens")
}

func TestStandaloneInvalidArgs(t *testing.T) {
	l := newStandaloneForTest(t)
	ctx := context.Background()

	_, err := l.Allow(ctx, "", Limit{Rate: 1, Burst: 1})
	assert.ErrorIs(t, err, ErrKeyEmpty)
	_, err = l.Allow(ctx, "k", Limit{Rate: 0, Burst: 1})
	assert.ErrorIs(t, err, ErrInvalidLimit)
	_, err = l.AllowN(ctx, "k", Limit{Rate: 1, Burst: 1}, 0)
	assert.ErrorIs(t, err, ErrInvalidLimit)
}

func TestStandaloneConcurrent(t *testing.T) {
	l := newStandaloneForTest(t)
	limit := Limit{Rate: 0.001, Burst: 10}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := l.Allow(context.Background(), "shared", limit)
			if err == nil && ok {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, allowed)
}

func TestStandaloneEvictIdle(t *testing.T) {
	l, err := New(&Config{IdleTimeout: time.Minute, CleanupInterval: time.Hour})
	require.NoError(t, err)
	defer l.Close()
	sl := l.(*standaloneLimiter)

	_, err = sl.Allow(context.Background(), "k", Limit{Rate: 1, Burst: 1})
	require.NoError(t, err)

	assert.Equal(t, 0, sl.evictIdle(time.Now()))
	assert.Equal(t, 1, sl.evictIdle(time.Now().Add(2*time.Minute)))
	assert.NoError(t, sl.Close(), "Close is idempotent")
}

func TestStandaloneMetrics(t *testing.T) {
	meter, reader := testkit.NewMeter(t)
	l := newStandaloneForTest(t, WithMeter(meter))
	limit := Limit{Rate: 0.001, Burst: 1}

	_, _ = l.Allow(context.Background(), "k", limit)
	_, _ = l.Allow(context.Background(), "k", limit)

	mode := metrics.L(LabelMode, string(ModeStandalone))
	assert.Equal(t, 1.0, testkit.CounterValue(t, reader, MetricRequests, mode, metrics.L(LabelResult, "allowed")))
	assert.Equal(t, 1.0, testkit.CounterValue(t, reader, MetricRequests, mode, metrics.L(LabelResult, "denied")))
}

func TestLimitRetryAfter(t *testing.T) {
	assert.Equal(t, 500*time.Millisecond, Limit{Rate: 2, Burst: 1}.RetryAfter())
	assert.Equal(t, time.Second, Limit{}.RetryAfter())
}
