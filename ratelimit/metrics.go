package ratelimit

import (
	"context"

	"github.com/ceyewan/fieldops/metrics"
)

const (
	// MetricRequests 限流判定次数 (Counter)，result 为 allowed/denied/error
	MetricRequests = "ratelimit_requests_total"

	LabelMode   = "mode"
	LabelResult = "result"
)

type limiterMetrics struct {
	requests metrics.Counter
	mode     string
}

func newLimiterMetrics(meter metrics.Meter, mode Mode) (*limiterMetrics, error) {
	c, err := meter.Counter(MetricRequests, "Number of rate limit decisions")
	if err != nil {
		return nil, err
	}
	return &limiterMetrics{requests: c, mode: string(mode)}, nil
}

func (m *limiterMetrics) observe(ctx context.Context, allowed bool, err error) {
	result := "denied"
	switch {
	case err != nil:
		result = "error"
	case allowed:
		result = "allowed"
	}
	m.requests.Inc(ctx, metrics.L(LabelMode, m.mode), metrics.L(LabelResult, result))
}
