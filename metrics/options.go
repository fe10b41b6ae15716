package metrics

import (
	"github.com/ceyewan/fieldops/clog"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Option 配置 Meter 实例的选项
type Option func(*options)

type options struct {
	logger  clog.Logger
	readers []sdkmetric.Reader
	global  bool
}

// WithLogger 注入日志记录器，自动添加 "metrics" 命名空间
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger.WithNamespace("metrics")
		}
	}
}

// WithReader 追加一个额外的 Reader，测试中常配合 sdkmetric.NewManualReader 断言指标
func WithReader(r sdkmetric.Reader) Option {
	return func(o *options) {
		if r != nil {
			o.readers = append(o.readers, r)
		}
	}
}

// WithGlobal 将 MeterProvider 注册为 otel 全局实例，
// 供 redisotel 等读取全局 Provider 的第三方埋点使用
func WithGlobal() Option {
	return func(o *options) {
		o.global = true
	}
}
