package app

import (
	"context"
	"encoding/json"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ceyewan/fieldops/auth"
	"github.com/ceyewan/fieldops/clog"
	"github.com/ceyewan/fieldops/idempotency"
	"github.com/ceyewan/fieldops/metrics"
	"github.com/ceyewan/fieldops/trace"
	"github.com/ceyewan/fieldops/xerrors"
)

// ========================================
// 发票 gRPC 服务
// ========================================

// 请求与响应使用 google.protobuf.Struct，字段与 HTTP JSON 一致
const (
	invoiceServiceName  = "fieldops.invoice.v1.InvoiceService"
	createInvoiceMethod = "/" + invoiceServiceName + "/CreateInvoice"
)

type invoiceServer interface {
	CreateInvoice(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var invoiceServiceDesc = grpc.ServiceDesc{
	ServiceName: invoiceServiceName,
	HandlerType: (*invoiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateInvoice", Handler: createInvoiceHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "fieldops/invoice/v1/invoice.proto",
}

func createInvoiceHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(invoiceServer).CreateInvoice(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: createInvoiceMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(invoiceServer).CreateInvoice(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

type grpcInvoiceServer struct {
	invoices *invoiceService
	logger   clog.Logger
}

func (s *grpcInvoiceServer) CreateInvoice(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	raw, err := protojson.Marshal(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "malformed request")
	}
	var req createInvoiceRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, "request fields have the wrong type")
	}

	claims, _ := ctx.Value(claimsContextKey{}).(*auth.Claims)
	inv, err := s.invoices.Create(ctx, callerFromClaims(claims), req)
	switch {
	case xerrors.Is(err, xerrors.ErrInvalidInput):
		return nil, status.Error(codes.InvalidArgument, err.Error())
	case err != nil:
		s.logger.ErrorContext(ctx, "create invoice failed", clog.Error(err))
		return nil, status.Error(codes.Internal, "internal error")
	}

	return structpb.NewStruct(map[string]any{
		"id":           inv.ID,
		"customer_id":  inv.CustomerID,
		"amount_cents": inv.AmountCents,
		"currency":     inv.Currency,
	})
}

// ========================================
// 认证
// ========================================

type claimsContextKey struct{}

// authUnaryInterceptor 可选认证：没有 authorization 时匿名放行，Token 非法返回 Unauthenticated
func authUnaryInterceptor(a auth.Authenticator) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if a == nil {
			return handler(ctx, req)
		}
		md, _ := metadata.FromIncomingContext(ctx)
		values := md.Get("authorization")
		if len(values) == 0 || strings.TrimSpace(values[0]) == "" {
			return handler(ctx, req)
		}

		token := strings.TrimSpace(values[0])
		if scheme, rest, ok := strings.Cut(token, " "); ok && strings.EqualFold(scheme, "Bearer") {
			token = strings.TrimSpace(rest)
		}
		claims, err := a.ValidateToken(ctx, token)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}

		ctx = context.WithValue(ctx, claimsContextKey{}, claims)
		ctx = context.WithValue(ctx, clog.UserIDKey, claims.Subject)
		if claims.TenantID != "" {
			ctx = context.WithValue(ctx, clog.TenantIDKey, claims.TenantID)
		}
		return handler(ctx, req)
	}
}

// grpcIdentity 幂等作用域使用的身份，与 HTTP 侧 auth.Identity 一致
func grpcIdentity(ctx context.Context) string {
	claims, _ := ctx.Value(claimsContextKey{}).(*auth.Claims)
	return claims.Identity()
}

// ========================================
// 服务器
// ========================================

func (a *App) newGRPCServer() (*grpc.Server, error) {
	grpcMetrics, err := metrics.NewGRPCServerMetrics(a.meter, a.cfg.Name)
	if err != nil {
		return nil, err
	}

	srv := grpc.NewServer(
		grpc.StatsHandler(trace.GRPCServerStatsHandler()),
		grpc.ChainUnaryInterceptor(
			grpcMetrics.UnaryServerInterceptor(),
			authUnaryInterceptor(a.auth),
			a.idem.UnaryServerInterceptor(idempotency.WithContextIdentity(grpcIdentity)),
		),
		grpc.ChainStreamInterceptor(grpcMetrics.StreamServerInterceptor()),
	)
	srv.RegisterService(&invoiceServiceDesc, &grpcInvoiceServer{invoices: a.invoices, logger: a.logger})

	a.health = health.NewServer()
	a.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	a.health.SetServingStatus(invoiceServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, a.health)
	return srv, nil
}
