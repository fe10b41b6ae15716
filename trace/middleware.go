package trace

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc/stats"
)

// GinMiddleware 为每个请求创建服务端 Span
func GinMiddleware(serviceName string) gin.HandlerFunc {
	return otelgin.Middleware(serviceName)
}

// GRPCServerStatsHandler gRPC 服务端追踪，通过 grpc.StatsHandler 挂载
func GRPCServerStatsHandler() stats.Handler {
	return otelgrpc.NewServerHandler()
}
