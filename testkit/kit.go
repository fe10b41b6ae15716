// Package testkit 提供测试用的依赖构造：日志、指标、SQLite 内存库与基于 testcontainers 的外部服务。
package testkit

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/ceyewan/fieldops/clog"
	"github.com/ceyewan/fieldops/metrics"
)

// Kit 包含通用的测试依赖
type Kit struct {
	Ctx    context.Context
	Logger clog.Logger
	Meter  metrics.Meter
}

// NewKit 返回一个包含默认依赖的测试工具包
func NewKit(t *testing.T) *Kit {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return &Kit{
		Ctx:    ctx,
		Logger: NewLogger(),
		Meter:  metrics.Discard(),
	}
}

// NewLogger 返回开发格式的 logger，失败时退化为 Discard
func NewLogger() clog.Logger {
	logger, err := clog.New(clog.NewDevDefaultConfig("fieldops"))
	if err != nil {
		return clog.Discard()
	}
	return logger
}

// NewMeter 返回带 ManualReader 的 Meter，配合 CounterValue 断言指标
func NewMeter(t *testing.T) (metrics.Meter, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	meter, err := metrics.New(metrics.NewDevDefaultConfig("test"), metrics.WithReader(reader))
	require.NoError(t, err)
	t.Cleanup(func() { _ = meter.Shutdown(context.Background()) })
	return meter, reader
}

// CounterValue 汇总名为 name 且带有全部给定标签的计数器数据点
func CounterValue(t *testing.T, reader *sdkmetric.ManualReader, name string, labels ...metrics.Label) float64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var total float64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[float64])
			if !ok {
				t.Fatalf("metric %s is %T, want float64 sum", name, m.Data)
			}
		next:
			for _, dp := range sum.DataPoints {
				for _, l := range labels {
					if v, ok := dp.Attributes.Value(attribute.Key(l.Key)); !ok || v.AsString() != l.Value {
						continue next
					}
				}
				total += dp.Value
			}
		}
	}
	return total
}

// NewContext 返回一个带有超时的测试上下文，随测试结束取消
func NewContext(t *testing.T, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// NewID 返回 8 位唯一 ID，用作 Key 前缀或库名，避免测试间互相干扰
func NewID() string {
	return uuid.New().String()[0:8]
}

// RequireDocker 短测试模式或 Docker 不可用时跳过当前测试
func RequireDocker(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)
}
