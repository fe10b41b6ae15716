package connector

import "github.com/ceyewan/fieldops/clog"

type options struct {
	logger  clog.Logger
	tracing bool
}

// Option 配置连接器的选项
type Option func(*options)

// WithLogger 设置日志记录器
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger.WithNamespace("connector")
		}
	}
}

// WithTracing 为客户端挂载 OpenTelemetry 埋点。
// Redis 使用 redisotel；GORM 的埋点由 db 组件通过 otelgorm 插件负责。
func WithTracing(enabled bool) Option {
	return func(o *options) {
		o.tracing = enabled
	}
}

func applyOptions(opts []Option) *options {
	o := &options{logger: clog.Discard()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
