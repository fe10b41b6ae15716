package breaker

import (
	"context"

	"github.com/ceyewan/fieldops/clog"
	"github.com/ceyewan/fieldops/metrics"
)

// Option 组件初始化选项
type Option func(*options)

// FallbackFunc 熔断打开时的降级逻辑，返回 nil 表示降级成功
type FallbackFunc func(ctx context.Context, key string, err error) error

type options struct {
	logger       clog.Logger
	meter        metrics.Meter
	fallback     FallbackFunc
	isSuccessful func(err error) bool
}

func defaultOptions() *options {
	return &options{
		logger: clog.Discard(),
		meter:  metrics.Discard(),
	}
}

// WithLogger 设置 Logger，自动添加 "breaker" 命名空间
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger.WithNamespace("breaker")
		}
	}
}

// WithMeter 注入指标 Meter
func WithMeter(m metrics.Meter) Option {
	return func(o *options) {
		if m != nil {
			o.meter = m
		}
	}
}

// WithFallback 设置降级函数
func WithFallback(fallback FallbackFunc) Option {
	return func(o *options) {
		o.fallback = fallback
	}
}

// WithSuccessClassifier 指定哪些错误不计入失败。
// 例如记录不存在、唯一键冲突属于业务结果，不应推动熔断。
func WithSuccessClassifier(fn func(err error) bool) Option {
	return func(o *options) {
		o.isSuccessful = fn
	}
}
