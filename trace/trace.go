// Package trace 初始化全局 OpenTelemetry TracerProvider，并提供 Gin 与 gRPC 的接入点。
package trace

import (
	"context"
	"time"

	"github.com/ceyewan/fieldops/xerrors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.20.0"
)

// ShutdownFunc 刷新剩余 Span 并关闭 Provider
type ShutdownFunc func(context.Context) error

// Init 初始化全局 TracerProvider 与 W3C 传播器。
//
// cfg.Enabled 为 false 时退化为 Discard(cfg.ServiceName)。
// 调用者应在退出时执行返回的 ShutdownFunc。
func Init(cfg *Config) (ShutdownFunc, error) {
	if cfg == nil {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "trace: config is nil")
	}
	if !cfg.Enabled {
		return Discard(cfg.ServiceName)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	ctx := context.Background()
	exporterOpts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithTimeout(5 * time.Second),
	}
	if cfg.Insecure {
		exporterOpts = append(exporterOpts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, exporterOpts...)
	if err != nil {
		return nil, xerrors.Wrap(err, "trace: create otlp exporter")
	}

	res, err := newResource(ctx, cfg.ServiceName)
	if err != nil {
		return nil, err
	}

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.Sampler))),
	}
	if cfg.Batcher == "simple" {
		tpOpts = append(tpOpts, sdktrace.WithSyncer(exporter))
	} else {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(exporter))
	}

	return install(sdktrace.NewTracerProvider(tpOpts...)), nil
}

// Discard 安装不导出的 TracerProvider，只负责生成 TraceID。
func Discard(serviceName string) (ShutdownFunc, error) {
	res, err := newResource(context.Background(), serviceName)
	if err != nil {
		return nil, err
	}
	return install(sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)), nil
}

func newResource(ctx context.Context, serviceName string) (*resource.Resource, error) {
	var opts []resource.Option
	if serviceName != "" {
		opts = append(opts, resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
	}
	res, err := resource.New(ctx, opts...)
	if err != nil {
		return nil, xerrors.Wrap(err, "trace: create resource")
	}
	return res, nil
}

func install(tp *sdktrace.TracerProvider) ShutdownFunc {
	otel.SetTracerProvider(tp)
	// TraceContext 负责 traceparent 头，Baggage 透传自定义 KV
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp.Shutdown
}
