package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ceyewan/fieldops/clog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// gormLogger 将 GORM 日志适配到 clog
type gormLogger struct {
	logger        clog.Logger
	level         logger.LogLevel
	slowThreshold time.Duration
}

func newGormLogger(log clog.Logger, level string, slow time.Duration) logger.Interface {
	return &gormLogger{
		logger:        log,
		level:         parseLogLevel(level),
		slowThreshold: slow,
	}
}

func parseLogLevel(level string) logger.LogLevel {
	switch level {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}

func (l *gormLogger) LogMode(level logger.LogLevel) logger.Interface {
	cp := *l
	cp.level = level
	return &cp
}

func (l *gormLogger) Info(ctx context.Context, msg string, data ...any) {
	if l.level >= logger.Info {
		l.logger.InfoContext(ctx, fmt.Sprintf(msg, data...))
	}
}

func (l *gormLogger) Warn(ctx context.Context, msg string, data ...any) {
	if l.level >= logger.Warn {
		l.logger.WarnContext(ctx, fmt.Sprintf(msg, data...))
	}
}

func (l *gormLogger) Error(ctx context.Context, msg string, data ...any) {
	if l.level >= logger.Error {
		l.logger.ErrorContext(ctx, fmt.Sprintf(msg, data...))
	}
}

// Trace 记录 SQL 执行。
// ErrRecordNotFound 与唯一键冲突属于正常业务分支，不按错误记录。
func (l *gormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= logger.Silent {
		return
	}
	elapsed := time.Since(begin)
	sql, rows := fc()
	fields := []clog.Field{
		clog.Duration("duration", elapsed),
		clog.String("sql", sql),
		clog.Int64("rows", rows),
	}

	switch {
	case err != nil && !isExpected(err) && l.level >= logger.Error:
		l.logger.ErrorContext(ctx, "sql error", append(fields, clog.Error(err))...)
	case l.slowThreshold > 0 && elapsed > l.slowThreshold && l.level >= logger.Warn:
		l.logger.WarnContext(ctx, "slow sql", fields...)
	case l.level >= logger.Info:
		l.logger.DebugContext(ctx, "sql", fields...)
	}
}

func isExpected(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound) || errors.Is(err, gorm.ErrDuplicatedKey)
}
