package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/fieldops/metrics"
	"github.com/ceyewan/fieldops/testkit"
	"github.com/ceyewan/fieldops/xerrors"
)

var errBackend = errors.New("backend down")

func failing() (any, error) { return nil, errBackend }

func TestNewBreaker(t *testing.T) {
	t.Run("nil config", func(t *testing.T) {
		_, err := New(nil)
		assert.ErrorIs(t, err, ErrConfigNil)
	})

	t.Run("invalid failure ratio", func(t *testing.T) {
		_, err := New(&Config{FailureRatio: 1.5})
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("defaults", func(t *testing.T) {
		cfg := &Config{}
		brk, err := New(cfg, WithLogger(testkit.NewLogger()))
		require.NoError(t, err)
		require.NotNil(t, brk)
		assert.Equal(t, uint32(1), cfg.MaxRequests)
		assert.Equal(t, 30*time.Second, cfg.Timeout)
		assert.Equal(t, 0.6, cfg.FailureRatio)
		assert.Equal(t, uint32(10), cfg.MinimumRequests)
	})
}

func TestExecute(t *testing.T) {
	brk, err := New(&Config{MinimumRequests: 3, Timeout: time.Second})
	require.NoError(t, err)
	ctx := context.Background()

	v, err := brk.Execute(ctx, "store", func() (any, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", v)

	_, err = brk.Execute(ctx, "", failing)
	assert.ErrorIs(t, err, ErrKeyEmpty)

	_, err = brk.State("")
	assert.ErrorIs(t, err, ErrKeyEmpty)
}

func TestTripAndRecover(t *testing.T) {
	brk, err := New(&Config{MinimumRequests: 3, FailureRatio: 0.5, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := brk.Execute(ctx, "store", failing)
		require.ErrorIs(t, err, errBackend)
	}

	state, err := brk.State("store")
	require.NoError(t, err)
	assert.Equal(t, StateOpen, state)

	called := false
	_, err = brk.Execute(ctx, "store", func() (any, error) {
		called = true
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrOpenState)
	assert.False(t, called, "打开状态下不应调用 fn")

	// 其他键不受影响
	state, err = brk.State("other")
	require.NoError(t, err)
	assert.Equal(t, StateClosed, state)

	time.Sleep(80 * time.Millisecond)
	_, err = brk.Execute(ctx, "store", func() (any, error) { return nil, nil })
	require.NoError(t, err)

	state, _ = brk.State("store")
	assert.Equal(t, StateClosed, state)
}

func TestSuccessClassifier(t *testing.T) {
	brk, err := New(&Config{MinimumRequests: 2, FailureRatio: 0.5},
		WithSuccessClassifier(func(err error) bool { return errors.Is(err, xerrors.ErrConflict) }))
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := brk.Execute(ctx, "store", func() (any, error) {
			return nil, xerrors.Wrap(xerrors.ErrConflict, "insert")
		})
		require.ErrorIs(t, err, xerrors.ErrConflict, "业务错误应原样返回")
	}

	state, _ := brk.State("store")
	assert.Equal(t, StateClosed, state)
}

func TestFallback(t *testing.T) {
	var fallbackKey string
	brk, err := New(&Config{MinimumRequests: 1, FailureRatio: 0.1, Timeout: time.Minute},
		WithFallback(func(ctx context.Context, key string, err error) error {
			fallbackKey = key
			assert.ErrorIs(t, err, ErrOpenState)
			return nil
		}))
	require.NoError(t, err)
	ctx := context.Background()

	_, _ = brk.Execute(ctx, "store", failing)
	_, err = brk.Execute(ctx, "store", failing)
	assert.NoError(t, err)
	assert.Equal(t, "store", fallbackKey)
}

func TestMetrics(t *testing.T) {
	meter, reader := testkit.NewMeter(t)
	brk, err := New(&Config{MinimumRequests: 3, FailureRatio: 0.6, Timeout: time.Minute}, WithMeter(meter))
	require.NoError(t, err)
	ctx := context.Background()

	_, _ = brk.Execute(ctx, "store", func() (any, error) { return nil, nil })
	_, _ = brk.Execute(ctx, "store", failing)
	_, _ = brk.Execute(ctx, "store", failing)
	_, _ = brk.Execute(ctx, "store", failing)

	key := metrics.L(LabelKey, "store")
	assert.Equal(t, 1.0, testkit.CounterValue(t, reader, MetricRequestsTotal, key, metrics.L(LabelResult, "success")))
	assert.Equal(t, 2.0, testkit.CounterValue(t, reader, MetricRequestsTotal, key, metrics.L(LabelResult, "failure")))
	assert.Equal(t, 1.0, testkit.CounterValue(t, reader, MetricRequestsTotal, key, metrics.L(LabelResult, "rejected")))
	assert.Equal(t, 1.0, testkit.CounterValue(t, reader, MetricStateChanges,
		metrics.L(LabelFromState, "closed"), metrics.L(LabelToState, "open")))
}
