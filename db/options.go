package db

import (
	"go.opentelemetry.io/otel/trace"

	"github.com/ceyewan/fieldops/clog"
)

// Option 配置 DB 实例的选项
type Option func(*options)

type options struct {
	logger clog.Logger
	tracer trace.TracerProvider
}

// WithLogger 注入日志记录器，SQL 日志同样经由它输出
func WithLogger(l clog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l.WithNamespace("db")
		}
	}
}

// WithTracer 指定 otelgorm 使用的 TracerProvider，默认取全局实例
func WithTracer(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.tracer = tp
	}
}
