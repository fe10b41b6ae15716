package clog

import "context"

// Logger 结构化日志接口
//
// 每个级别都有带 Context 和不带 Context 的版本，带 Context 的版本会按
// Option 配置从 ctx 中提取字段（如 trace_id）。
//
// 创建子 Logger：
//
//	childLogger := logger.With(clog.String("tenant", "acme"))
//	nsLogger := logger.WithNamespace("idempotency")
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	Fatal(msg string, fields ...Field)

	DebugContext(ctx context.Context, msg string, fields ...Field)
	InfoContext(ctx context.Context, msg string, fields ...Field)
	WarnContext(ctx context.Context, msg string, fields ...Field)
	ErrorContext(ctx context.Context, msg string, fields ...Field)
	FatalContext(ctx context.Context, msg string, fields ...Field)

	// With 创建一个带有预设字段的子 Logger
	With(fields ...Field) Logger

	// WithNamespace 追加命名空间，多级之间以 "." 连接
	WithNamespace(parts ...string) Logger

	// SetLevel 动态调整日志级别，对同一 New 派生出的所有 Logger 生效
	SetLevel(level Level) error

	// Flush 同步缓冲区
	Flush()
}
