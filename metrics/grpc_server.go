package metrics

import (
	"context"
	"strings"
	"time"

	"github.com/ceyewan/fieldops/xerrors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	MetricGRPCServerRequestTotal    = "grpc_server_requests_total"
	MetricGRPCServerDurationSeconds = "grpc_server_request_duration_seconds"
)

var defaultGRPCDurationBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

// GRPCServerMetrics gRPC 服务端 RED 指标集
type GRPCServerMetrics struct {
	service      string
	requestTotal Counter
	duration     Histogram
}

// NewGRPCServerMetrics 创建 gRPC 服务端指标
func NewGRPCServerMetrics(m Meter, service string) (*GRPCServerMetrics, error) {
	if m == nil {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "metrics: meter is nil")
	}
	if service = strings.TrimSpace(service); service == "" {
		service = "unknown"
	}

	counter, err := m.Counter(MetricGRPCServerRequestTotal, "Total number of gRPC requests.")
	if err != nil {
		return nil, xerrors.Wrap(err, "create grpc request counter")
	}
	duration, err := m.Histogram(MetricGRPCServerDurationSeconds, "gRPC request duration in seconds.",
		WithUnit("s"), WithBuckets(defaultGRPCDurationBuckets))
	if err != nil {
		return nil, xerrors.Wrap(err, "create grpc request duration histogram")
	}

	return &GRPCServerMetrics{service: service, requestTotal: counter, duration: duration}, nil
}

// Observe 记录一次 gRPC 调用
func (m *GRPCServerMetrics) Observe(ctx context.Context, fullMethod string, code codes.Code, duration time.Duration) {
	if m == nil {
		return
	}

	method := strings.TrimSpace(fullMethod)
	if method == "" {
		method = "unknown"
	}

	labels := []Label{
		L(LabelService, m.service),
		L(LabelOperation, OperationGRPCServer),
		L(LabelMethod, method),
		L(LabelGRPCCode, strings.ToUpper(code.String())),
		L(LabelOutcome, GRPCOutcome(code)),
	}

	m.requestTotal.Inc(ctx, labels...)
	m.duration.Record(ctx, duration.Seconds(), labels...)
}

// UnaryServerInterceptor 返回记录指标的一元拦截器
func (m *GRPCServerMetrics) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		m.Observe(ctx, info.FullMethod, status.Code(err), time.Since(start))
		return resp, err
	}
}

// StreamServerInterceptor 返回记录指标的流拦截器
func (m *GRPCServerMetrics) StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		ctx := context.Background()
		if ss != nil {
			ctx = ss.Context()
		}
		m.Observe(ctx, info.FullMethod, status.Code(err), time.Since(start))
		return err
	}
}
