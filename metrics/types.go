// Package metrics 提供基于 OpenTelemetry 的指标收集能力，通过 Prometheus 暴露。
//
// 快速开始：
//
//	meter, err := metrics.New(&metrics.Config{Enabled: true, ServiceName: "fieldops-api", Port: 9090})
//	if err != nil {
//	    return err
//	}
//	defer meter.Shutdown(ctx)
//
//	decisions, _ := meter.Counter("idempotency_decisions_total", "幂等判定次数")
//	decisions.Inc(ctx, metrics.L("outcome", "replay"))
package metrics

import (
	"context"
	"net/http"
)

// Counter 只增不减的累计值，例如请求数、错误次数
type Counter interface {
	// Inc 将计数器增加 1
	Inc(ctx context.Context, labels ...Label)
	// Add 将计数器增加给定的值，负数会被忽略
	Add(ctx context.Context, val float64, labels ...Label)
}

// Gauge 可任意增减的瞬时值，例如在途请求数
type Gauge interface {
	Set(ctx context.Context, val float64, labels ...Label)
	Inc(ctx context.Context, labels ...Label)
	Dec(ctx context.Context, labels ...Label)
}

// Histogram 记录值的分布，例如耗时
type Histogram interface {
	Record(ctx context.Context, val float64, labels ...Label)
}

// Meter 指标创建工厂，创建出的指标并发安全。
type Meter interface {
	// Counter 创建计数器，name 应符合 Prometheus 命名规范
	Counter(name string, desc string, opts ...MetricOption) (Counter, error)
	// Gauge 创建仪表盘
	Gauge(name string, desc string, opts ...MetricOption) (Gauge, error)
	// Histogram 创建直方图，可通过 WithBuckets 指定桶边界
	Histogram(name string, desc string, opts ...MetricOption) (Histogram, error)
	// Handler 返回 Prometheus 格式的采集端点，禁用时返回 404
	Handler() http.Handler
	// Shutdown 刷新并关闭，之后的记录被丢弃
	Shutdown(ctx context.Context) error
}

// MetricOption 创建指标时的额外配置
type MetricOption func(*MetricOptions)

// MetricOptions 指标选项
type MetricOptions struct {
	// Unit UCUM 单位代码，如 "s"、"By"
	Unit string
	// Buckets 直方图桶边界，为空时使用 SDK 默认值
	Buckets []float64
}

// WithUnit 设置指标的单位
func WithUnit(unit string) MetricOption {
	return func(o *MetricOptions) {
		o.Unit = unit
	}
}

// WithBuckets 设置直方图的显式桶边界
func WithBuckets(buckets []float64) MetricOption {
	return func(o *MetricOptions) {
		o.Buckets = append([]float64(nil), buckets...)
	}
}
