package idempotency

import (
	"github.com/ceyewan/fieldops/metrics"
	"github.com/ceyewan/fieldops/xerrors"
)

const (
	// MetricDecisions Begin 判定结果，标签: outcome
	MetricDecisions = "idempotency_decisions_total"

	// MetricStoreErrors 存储调用失败次数，标签: op (get/insert/reclaim/complete/extend/unstick)
	MetricStoreErrors = "idempotency_store_errors_total"

	// MetricCompletions 完成写入结果，标签: result (ok/mismatch/error)
	MetricCompletions = "idempotency_completions_total"

	// MetricReclaims 过期租约被接管的次数
	MetricReclaims = "idempotency_reclaims_total"

	// MetricBeginDuration Begin 耗时
	MetricBeginDuration = "idempotency_begin_duration_seconds"

	LabelOutcome = "outcome"
	LabelOp      = "op"
	LabelResult  = "result"
)

// outcome 标签中 Proceed 之外的两种放行
const (
	outcomeBypass      = "bypass"
	outcomeUntracked   = "store_error_open"
	outcomeUnavailable = "store_error_closed"
)

type instruments struct {
	decisions     metrics.Counter
	storeErrors   metrics.Counter
	completions   metrics.Counter
	reclaims      metrics.Counter
	beginDuration metrics.Histogram
}

func newInstruments(m metrics.Meter) (*instruments, error) {
	var (
		in  instruments
		err error
	)
	if in.decisions, err = m.Counter(MetricDecisions, "Idempotency decisions by outcome"); err != nil {
		return nil, xerrors.Wrap(err, "idempotency: create decisions counter")
	}
	if in.storeErrors, err = m.Counter(MetricStoreErrors, "Idempotency store failures by operation"); err != nil {
		return nil, xerrors.Wrap(err, "idempotency: create store errors counter")
	}
	if in.completions, err = m.Counter(MetricCompletions, "Idempotency completion writes by result"); err != nil {
		return nil, xerrors.Wrap(err, "idempotency: create completions counter")
	}
	if in.reclaims, err = m.Counter(MetricReclaims, "Expired processing leases taken over by a retry"); err != nil {
		return nil, xerrors.Wrap(err, "idempotency: create reclaims counter")
	}
	in.beginDuration, err = m.Histogram(MetricBeginDuration, "Latency of idempotency Begin",
		metrics.WithUnit("s"),
		metrics.WithBuckets([]float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1}))
	if err != nil {
		return nil, xerrors.Wrap(err, "idempotency: create begin histogram")
	}
	return &in, nil
}
