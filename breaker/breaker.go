// Package breaker 提供按键隔离的熔断器，基于 sony/gobreaker。
//
// 每个键（后端名、存储名等）拥有独立的熔断状态。失败率达到阈值后进入打开状态，
// 期间的调用直接返回 ErrOpenState，Timeout 过后进入半开状态放行少量探测请求。
//
//	brk, _ := breaker.New(&breaker.Config{FailureRatio: 0.5, MinimumRequests: 20},
//		breaker.WithLogger(logger))
//	v, err := brk.Execute(ctx, "idempotency-store", func() (any, error) {
//		return store.Get(ctx, key, scope)
//	})
package breaker

import (
	"context"
	"time"
)

// Breaker 熔断器核心接口
type Breaker interface {
	// Execute 在 key 对应的熔断器保护下执行 fn。
	// 熔断打开时不调用 fn，返回 ErrOpenState 或降级函数的结果。
	Execute(ctx context.Context, key string, fn func() (any, error)) (any, error)

	// State 返回 key 对应熔断器的状态，从未使用过的键视为闭合
	State(key string) (State, error)
}

// State 熔断器状态
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half_open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Config 熔断器配置
type Config struct {
	// MaxRequests 半开状态下允许通过的探测请求数（默认: 1）
	MaxRequests uint32 `mapstructure:"max_requests"`

	// Interval 闭合状态下清空计数的周期，0 表示不清空
	Interval time.Duration `mapstructure:"interval"`

	// Timeout 打开状态持续时间（默认: 30s）
	Timeout time.Duration `mapstructure:"timeout"`

	// FailureRatio 触发熔断的失败率（默认: 0.6）
	FailureRatio float64 `mapstructure:"failure_ratio"`

	// MinimumRequests 统计窗口内少于该请求数时不触发熔断（默认: 10）
	MinimumRequests uint32 `mapstructure:"minimum_requests"`
}

func (c *Config) setDefaults() {
	if c.MaxRequests == 0 {
		c.MaxRequests = 1
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.FailureRatio == 0 {
		c.FailureRatio = 0.6
	}
	if c.MinimumRequests == 0 {
		c.MinimumRequests = 10
	}
}

func (c *Config) validate() error {
	if c.FailureRatio < 0 || c.FailureRatio > 1 {
		return ErrInvalidConfig
	}
	return nil
}

// New 创建熔断器
func New(cfg *Config, opts ...Option) (Breaker, error) {
	if cfg == nil {
		return nil, ErrConfigNil
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return newBreaker(cfg, o)
}
