package clog

import "context"

type noopLogger struct{}

// Discard 返回一个丢弃所有输出的 Logger，组件未注入 Logger 时使用
func Discard() Logger {
	return noopLogger{}
}

func (noopLogger) Debug(string, ...Field)                                {}
func (noopLogger) Info(string, ...Field)                                 {}
func (noopLogger) Warn(string, ...Field)                                 {}
func (noopLogger) Error(string, ...Field)                                {}
func (noopLogger) Fatal(string, ...Field)                                {}
func (noopLogger) DebugContext(context.Context, string, ...Field)        {}
func (noopLogger) InfoContext(context.Context, string, ...Field)         {}
func (noopLogger) WarnContext(context.Context, string, ...Field)         {}
func (noopLogger) ErrorContext(context.Context, string, ...Field)        {}
func (noopLogger) FatalContext(context.Context, string, ...Field)        {}
func (n noopLogger) With(...Field) Logger                                { return n }
func (n noopLogger) WithNamespace(...string) Logger                      { return n }
func (noopLogger) SetLevel(Level) error                                  { return nil }
func (noopLogger) Flush()                                                {}
