package idempotency

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"

	"github.com/ceyewan/fieldops/breaker"
	"github.com/ceyewan/fieldops/clog"
	"github.com/ceyewan/fieldops/connector"
	"github.com/ceyewan/fieldops/db"
	"github.com/ceyewan/fieldops/metrics"
)

// Option 组件初始化选项
type Option func(*options)

type options struct {
	logger    clog.Logger
	meter     metrics.Meter
	tracer    trace.TracerProvider
	database  db.DB
	redisConn connector.RedisConnector
	breaker   breaker.Breaker
	store     Store
}

// WithLogger 设置 Logger，自动添加 "idempotency" 命名空间
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger.WithNamespace("idempotency")
		}
	}
}

// WithMeter 注入指标 Meter
func WithMeter(m metrics.Meter) Option {
	return func(o *options) {
		if m != nil {
			o.meter = m
		}
	}
}

// WithTracerProvider 指定创建 idempotency.begin/complete span 的 TracerProvider，
// 默认使用全局 provider
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.tracer = tp
		}
	}
}

// WithDB 注入数据库组件，Driver 为 database 时必需
func WithDB(database db.DB) Option {
	return func(o *options) {
		o.database = database
	}
}

// WithRedisConnector 注入 Redis 连接器，Driver 为 redis 时必需
func WithRedisConnector(conn connector.RedisConnector) Option {
	return func(o *options) {
		o.redisConn = conn
	}
}

// WithBreaker 用熔断器保护存储调用，存储持续故障时快速失败
func WithBreaker(brk breaker.Breaker) Option {
	return func(o *options) {
		o.breaker = brk
	}
}

// WithStore 直接指定存储实现，忽略 Driver
func WithStore(store Store) Option {
	return func(o *options) {
		o.store = store
	}
}

// ========================================
// 接入层选项
// ========================================

// IdentityFunc 从 HTTP 请求中取出已认证身份，匿名返回空串
type IdentityFunc func(c *gin.Context) string

// ContextIdentityFunc 从 gRPC 请求上下文中取出已认证身份
type ContextIdentityFunc func(ctx context.Context) string

// HTTPFingerprintFunc 自定义 HTTP 请求指纹
type HTTPFingerprintFunc func(method, route string, body []byte) (string, error)

// MiddlewareOption Gin 中间件选项
type MiddlewareOption func(*middlewareOptions)

type middlewareOptions struct {
	headerNames []string
	identity    IdentityFunc
	fingerprint HTTPFingerprintFunc
}

// WithHeaderNames 追加识别的幂等键请求头，默认的三种写法始终生效
func WithHeaderNames(names ...string) MiddlewareOption {
	return func(o *middlewareOptions) {
		o.headerNames = append(append([]string(nil), names...), o.headerNames...)
	}
}

// WithIdentity 设置身份提取函数，通常为 auth.Identity
func WithIdentity(fn IdentityFunc) MiddlewareOption {
	return func(o *middlewareOptions) {
		if fn != nil {
			o.identity = fn
		}
	}
}

// WithFingerprintFunc 替换默认的 method+route+body 指纹
func WithFingerprintFunc(fn HTTPFingerprintFunc) MiddlewareOption {
	return func(o *middlewareOptions) {
		if fn != nil {
			o.fingerprint = fn
		}
	}
}

// InterceptorOption gRPC 拦截器选项
type InterceptorOption func(*interceptorOptions)

type interceptorOptions struct {
	metadataKeys []string
	identity     ContextIdentityFunc
}

// WithMetadataKeys 追加识别的 metadata 键，默认的三种写法始终生效
func WithMetadataKeys(keys ...string) InterceptorOption {
	return func(o *interceptorOptions) {
		o.metadataKeys = append(append([]string(nil), keys...), o.metadataKeys...)
	}
}

// WithContextIdentity 设置 gRPC 身份提取函数
func WithContextIdentity(fn ContextIdentityFunc) InterceptorOption {
	return func(o *interceptorOptions) {
		if fn != nil {
			o.identity = fn
		}
	}
}
