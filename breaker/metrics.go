package breaker

const (
	// MetricRequestsTotal 经过熔断器的调用数，标签: key, result (success/failure/rejected)
	MetricRequestsTotal = "breaker_requests_total"

	// MetricStateChanges 状态变更次数，标签: key, from_state, to_state
	MetricStateChanges = "breaker_state_changes_total"

	LabelKey       = "key"
	LabelResult    = "result"
	LabelFromState = "from_state"
	LabelToState   = "to_state"
)
