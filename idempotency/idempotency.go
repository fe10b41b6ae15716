// Package idempotency 为写操作提供基于幂等键的去重：同一 (key, scope) 的请求
// 最多执行一次，重试时回放缓存的响应，键被挪用于不同请求时返回冲突，
// 并发的重复请求返回处理中。
//
// 并发仲裁交给存储的原子 insert-if-absent（数据库唯一索引或 Redis Lua 脚本），
// 进程内不持有任何锁。
//
// ## 基本使用
//
//	idem, _ := idempotency.New(&idempotency.Config{
//	    Driver:        idempotency.DriverDatabase,
//	    ProcessingTTL: 5 * time.Minute,
//	}, idempotency.WithDB(database), idempotency.WithLogger(logger))
//
//	r := gin.New()
//	r.Use(idem.GinMiddleware(idempotency.WithIdentity(auth.Identity)))
//
// ## 服务层直接调用
//
//	resp, err := idem.Execute(ctx, idempotency.Request{Key: key, Scope: scope, Fingerprint: fp},
//	    func(ctx context.Context) (*idempotency.Response, error) {
//	        return &idempotency.Response{Status: 201, Body: body}, nil
//	    })
package idempotency

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"google.golang.org/grpc"

	"github.com/ceyewan/fieldops/clog"
	"github.com/ceyewan/fieldops/metrics"
	"github.com/ceyewan/fieldops/xerrors"
)

// ========================================
// 接口定义 (Interface Definitions)
// ========================================

// Idempotency 幂等组件
type Idempotency interface {
	Completer

	// Begin 判定一次请求应当执行、回放、冲突还是处理中。
	// 只有 OutcomeProceed 时调用方才能执行业务逻辑。
	// 存储故障时按 FailurePolicy 放行（未跟踪）或返回 ErrStoreUnavailable。
	Begin(ctx context.Context, key, scope, fingerprint string) (*Decision, error)

	// Execute 依次执行 Begin、fn、Complete，供服务层使用。
	// 冲突返回 ErrKeyConflict，处理中返回 ErrRequestInProgress，回放返回缓存的响应。
	Execute(ctx context.Context, req Request, fn func(ctx context.Context) (*Response, error)) (*Response, error)

	// Unstick 运维接口：让处理中的记录立即可被下一次重试接管
	Unstick(ctx context.Context, key, scope string) (bool, error)

	// GinMiddleware 返回 HTTP 幂等中间件
	GinMiddleware(opts ...MiddlewareOption) gin.HandlerFunc

	// UnaryServerInterceptor 返回 gRPC 一元拦截器
	UnaryServerInterceptor(opts ...InterceptorOption) grpc.UnaryServerInterceptor

	// Close 释放本地缓存等资源，不关闭底层连接
	Close() error
}

// Completer 写回最终响应，Recorder 只依赖这一部分
type Completer interface {
	// Complete 以判定中的 (key, scope, fingerprint) 与持有者凭证为条件，
	// 把处理中的记录标记为完成。记录已被他人接管或没有命中返回 ErrCompletionMismatch，
	// 存储错误包装后返回，未跟踪的判定直接返回 nil。
	Complete(ctx context.Context, d *Decision, status int, body []byte, contentType string) error

	// Release 放弃持有：租约置为立即过期，下一次重试即可接管。
	// 没有可回放的响应时调用，失败只记日志。
	Release(ctx context.Context, d *Decision)

	// KeepAlive 在处理期间周期性续租，返回的函数停止续租。
	// 未跟踪的判定或未启用租约时什么也不做。
	KeepAlive(ctx context.Context, d *Decision) (stop func())
}

// Outcome Begin 的判定结果
type Outcome int

const (
	OutcomeProceed Outcome = iota
	OutcomeReplay
	OutcomeConflict
	OutcomeInProgress
)

func (o Outcome) String() string {
	switch o {
	case OutcomeProceed:
		return "proceed"
	case OutcomeReplay:
		return "replay"
	case OutcomeConflict:
		return "conflict"
	case OutcomeInProgress:
		return "in_progress"
	default:
		return "unknown"
	}
}

// Decision Begin 的返回值
type Decision struct {
	Outcome     Outcome
	Key         string
	Scope       string
	Fingerprint string

	// Tracked 为 true 表示存储中有本次请求对应的 processing 记录，需要 Complete
	Tracked bool
	// Token 持有者凭证，仅 Tracked 时有值
	Token string
	// Reclaimed 为 true 表示接管了租约过期的记录
	Reclaimed bool

	// 回放内容，仅 OutcomeReplay 有值
	Status      int
	Body        []byte
	ContentType string

	// RetryAfter 处理中时建议的重试间隔
	RetryAfter time.Duration
}

// Request Execute 的输入
type Request struct {
	Key         string
	Scope       string
	Fingerprint string
}

// Response Execute 的输出，Replayed 表示来自缓存
type Response struct {
	Status      int
	Body        []byte
	ContentType string
	Replayed    bool
}

// ========================================
// 工厂函数 (Factory Functions)
// ========================================

// New 创建幂等组件。
//
// 存储按 Config.Driver 选择：database 需要 WithDB，redis 需要 WithRedisConnector；
// WithStore 优先于 Driver。WithBreaker 与 ReplayCacheSize 依次包装存储。
func New(cfg *Config, opts ...Option) (Idempotency, error) {
	if cfg == nil {
		return nil, ErrConfigNil
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	o := &options{
		logger: clog.Discard(),
		meter:  metrics.Discard(),
		tracer: otel.GetTracerProvider(),
	}
	for _, opt := range opts {
		opt(o)
	}

	store, err := buildStore(cfg, o)
	if err != nil {
		return nil, err
	}
	if o.breaker != nil {
		store = NewBreakerStore(store, o.breaker)
	}
	if cfg.ReplayCacheSize > 0 {
		if store, err = NewCachedStore(store, cfg.ReplayCacheSize); err != nil {
			return nil, err
		}
	}

	in, err := newInstruments(o.meter)
	if err != nil {
		return nil, err
	}

	o.logger.Info("idempotency component created",
		clog.String("driver", string(cfg.Driver)),
		clog.String("failure_policy", string(cfg.FailurePolicy)),
		clog.Duration("processing_ttl", cfg.ProcessingTTL),
		clog.Int("replay_cache_size", cfg.ReplayCacheSize))

	return &coordinator{
		cfg:    cfg,
		store:  store,
		logger: o.logger,
		tracer: o.tracer.Tracer("github.com/ceyewan/fieldops/idempotency"),
		inst:   in,
		now:    time.Now,
	}, nil
}

func buildStore(cfg *Config, o *options) (Store, error) {
	if o.store != nil {
		return o.store, nil
	}
	switch cfg.Driver {
	case DriverDatabase:
		if o.database == nil {
			return nil, xerrors.Wrap(ErrStoreRequired, "use WithDB")
		}
		if !cfg.SkipMigrate {
			if err := AutoMigrate(context.Background(), o.database); err != nil {
				return nil, err
			}
		}
		return NewGormStore(o.database), nil
	case DriverRedis:
		if o.redisConn == nil {
			return nil, xerrors.Wrap(ErrStoreRequired, "use WithRedisConnector")
		}
		return NewRedisStore(o.redisConn, cfg.Prefix), nil
	default:
		return NewMemoryStore(), nil
	}
}
