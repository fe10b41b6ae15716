package breaker

import (
	"context"
	"errors"
	"sync"

	"github.com/ceyewan/fieldops/clog"
	"github.com/ceyewan/fieldops/metrics"
	"github.com/ceyewan/fieldops/xerrors"

	"github.com/sony/gobreaker/v2"
)

type circuitBreaker struct {
	cfg          *Config
	logger       clog.Logger
	fallback     FallbackFunc
	isSuccessful func(err error) bool

	requests     metrics.Counter
	stateChanges metrics.Counter

	breakers sync.Map // map[string]*gobreaker.CircuitBreaker[any]
}

func newBreaker(cfg *Config, o *options) (Breaker, error) {
	requests, err := o.meter.Counter(MetricRequestsTotal, "Calls passing through the circuit breaker")
	if err != nil {
		return nil, xerrors.Wrap(err, "breaker: create requests counter")
	}
	stateChanges, err := o.meter.Counter(MetricStateChanges, "Circuit breaker state transitions")
	if err != nil {
		return nil, xerrors.Wrap(err, "breaker: create state counter")
	}

	o.logger.Info("circuit breaker created",
		clog.Int("max_requests", int(cfg.MaxRequests)),
		clog.Duration("timeout", cfg.Timeout),
		clog.Float64("failure_ratio", cfg.FailureRatio),
		clog.Int("minimum_requests", int(cfg.MinimumRequests)))

	return &circuitBreaker{
		cfg:          cfg,
		logger:       o.logger,
		fallback:     o.fallback,
		isSuccessful: o.isSuccessful,
		requests:     requests,
		stateChanges: stateChanges,
	}, nil
}

func (cb *circuitBreaker) Execute(ctx context.Context, key string, fn func() (any, error)) (any, error) {
	if key == "" {
		return nil, ErrKeyEmpty
	}

	result, err := cb.getOrCreate(key).Execute(fn)
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		cb.requests.Inc(ctx, metrics.L(LabelKey, key), metrics.L(LabelResult, "rejected"))
		if cb.fallback != nil {
			return nil, cb.fallback(ctx, key, ErrOpenState)
		}
		return nil, ErrOpenState
	case err != nil && !cb.successful(err):
		cb.requests.Inc(ctx, metrics.L(LabelKey, key), metrics.L(LabelResult, "failure"))
	default:
		cb.requests.Inc(ctx, metrics.L(LabelKey, key), metrics.L(LabelResult, "success"))
	}
	return result, err
}

func (cb *circuitBreaker) State(key string) (State, error) {
	if key == "" {
		return StateClosed, ErrKeyEmpty
	}
	val, ok := cb.breakers.Load(key)
	if !ok {
		return StateClosed, nil
	}
	return fromGobreaker(val.(*gobreaker.CircuitBreaker[any]).State()), nil
}

func (cb *circuitBreaker) getOrCreate(key string) *gobreaker.CircuitBreaker[any] {
	if val, ok := cb.breakers.Load(key); ok {
		return val.(*gobreaker.CircuitBreaker[any])
	}

	settings := gobreaker.Settings{
		Name:          key,
		MaxRequests:   cb.cfg.MaxRequests,
		Interval:      cb.cfg.Interval,
		Timeout:       cb.cfg.Timeout,
		ReadyToTrip:   cb.readyToTrip,
		OnStateChange: cb.onStateChange,
		IsSuccessful:  cb.successful,
	}
	actual, _ := cb.breakers.LoadOrStore(key, gobreaker.NewCircuitBreaker[any](settings))
	return actual.(*gobreaker.CircuitBreaker[any])
}

func (cb *circuitBreaker) successful(err error) bool {
	if err == nil {
		return true
	}
	if cb.isSuccessful != nil {
		return cb.isSuccessful(err)
	}
	return false
}

func (cb *circuitBreaker) readyToTrip(counts gobreaker.Counts) bool {
	if counts.Requests < cb.cfg.MinimumRequests {
		return false
	}
	return float64(counts.TotalFailures)/float64(counts.Requests) >= cb.cfg.FailureRatio
}

func (cb *circuitBreaker) onStateChange(name string, from, to gobreaker.State) {
	fromState, toState := fromGobreaker(from).String(), fromGobreaker(to).String()
	cb.logger.Warn("circuit breaker state changed",
		clog.String("key", name),
		clog.String("from", fromState),
		clog.String("to", toState))
	cb.stateChanges.Inc(context.Background(),
		metrics.L(LabelKey, name), metrics.L(LabelFromState, fromState), metrics.L(LabelToState, toState))
}

func fromGobreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	case gobreaker.StateOpen:
		return StateOpen
	default:
		return StateClosed
	}
}
