// Package app 组装 fieldops-api 进程：配置、日志、追踪、指标、连接器、
// 数据库、熔断器、幂等组件、认证，以及对外的 HTTP 与 gRPC 服务。
package app

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"

	"github.com/ceyewan/fieldops/auth"
	"github.com/ceyewan/fieldops/breaker"
	"github.com/ceyewan/fieldops/clog"
	"github.com/ceyewan/fieldops/config"
	"github.com/ceyewan/fieldops/connector"
	"github.com/ceyewan/fieldops/db"
	"github.com/ceyewan/fieldops/idempotency"
	"github.com/ceyewan/fieldops/metrics"
	"github.com/ceyewan/fieldops/ratelimit"
	"github.com/ceyewan/fieldops/trace"
	"github.com/ceyewan/fieldops/xerrors"
)

// App 持有进程内全部组件，按创建的逆序释放
type App struct {
	cfg    *Config
	logger clog.Logger
	meter  metrics.Meter

	dbConn    connector.DatabaseConnector
	redisConn connector.RedisConnector
	database  db.DB
	idem      idempotency.Idempotency
	limiter   ratelimit.Limiter
	auth      auth.Authenticator
	invoices  *invoiceService

	engine     *gin.Engine
	grpcServer *grpc.Server
	health     *health.Server

	closers []closer
}

type closer struct {
	name string
	fn   func(ctx context.Context) error
}

// Option App 选项
type Option func(*options)

type options struct {
	logger clog.Logger
}

// WithLogger 使用外部 Logger，不再按 cfg.Log 创建
func WithLogger(l clog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// New 按配置创建全部组件。任何一步失败都会释放已经创建的部分。
func New(ctx context.Context, cfg *Config, opts ...Option) (_ *App, err error) {
	if cfg == nil {
		return nil, xerrors.Wrap(ErrInvalidConfig, "config is nil")
	}
	cfg.setDefaults()
	if err = cfg.validate(); err != nil {
		return nil, err
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	a := &App{cfg: cfg, logger: o.logger}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	if a.logger == nil {
		a.logger, err = clog.New(&cfg.Log,
			clog.WithNamespace(cfg.Name),
			clog.WithTraceContext(),
			clog.WithStandardContext())
		if err != nil {
			return nil, xerrors.Wrap(err, "app: init logger")
		}
	}

	traceShutdown, err := trace.Init(&cfg.Trace)
	if err != nil {
		return nil, xerrors.Wrap(err, "app: init trace")
	}
	a.closers = append(a.closers, closer{"trace", traceShutdown})

	if a.meter, err = metrics.New(&cfg.Metrics, metrics.WithLogger(a.logger)); err != nil {
		return nil, xerrors.Wrap(err, "app: init metrics")
	}
	a.closers = append(a.closers, closer{"metrics", a.meter.Shutdown})

	if err = a.initStorage(ctx); err != nil {
		return nil, err
	}
	if err = a.initIdempotency(); err != nil {
		return nil, err
	}
	if cfg.RateLimit.Enabled {
		a.limiter, err = ratelimit.New(&cfg.RateLimit.Config,
			ratelimit.WithLogger(a.logger),
			ratelimit.WithMeter(a.meter),
			ratelimit.WithRedisConnector(a.redisConn))
		if err != nil {
			return nil, xerrors.Wrap(err, "app: create rate limiter")
		}
		a.closers = append(a.closers, closer{"rate limiter", func(context.Context) error { return a.limiter.Close() }})
	}

	if cfg.Auth.SecretKey != "" {
		if a.auth, err = auth.New(&cfg.Auth, auth.WithLogger(a.logger), auth.WithMeter(a.meter)); err != nil {
			return nil, xerrors.Wrap(err, "app: init auth")
		}
	}

	a.invoices = &invoiceService{database: a.database, logger: a.logger.WithNamespace("invoice")}
	if err = a.database.DB(ctx).AutoMigrate(&Invoice{}); err != nil {
		return nil, xerrors.Wrap(err, "app: migrate invoices")
	}

	if a.engine, err = a.newEngine(); err != nil {
		return nil, err
	}
	if cfg.GRPC.Enabled {
		if a.grpcServer, err = a.newGRPCServer(); err != nil {
			return nil, err
		}
	}

	a.logger.Info("app initialized",
		clog.String("database", cfg.Database.Driver),
		clog.String("idempotency_driver", string(cfg.Idempotency.Driver)),
		clog.Bool("auth", a.auth != nil),
		clog.Bool("grpc", cfg.GRPC.Enabled),
		clog.Bool("rate_limit", cfg.RateLimit.Enabled))
	return a, nil
}

func (a *App) initStorage(ctx context.Context) error {
	connOpts := []connector.Option{connector.WithLogger(a.logger), connector.WithTracing(a.cfg.Trace.Enabled)}

	var err error
	switch a.cfg.Database.Driver {
	case "postgres":
		a.dbConn, err = connector.NewPostgreSQL(&a.cfg.Database.Postgres, connOpts...)
	case "mysql":
		a.dbConn, err = connector.NewMySQL(&a.cfg.Database.MySQL, connOpts...)
	default:
		a.dbConn, err = connector.NewSQLite(&a.cfg.Database.SQLite, connOpts...)
	}
	if err != nil {
		return xerrors.Wrap(err, "app: create database connector")
	}
	a.closers = append(a.closers, closer{"database connector", func(context.Context) error { return a.dbConn.Close() }})
	if err := a.dbConn.Connect(ctx); err != nil {
		return xerrors.Wrap(err, "app: connect database")
	}

	dbCfg := a.cfg.Database.Options
	dbCfg.EnableTracing = dbCfg.EnableTracing || a.cfg.Trace.Enabled
	if a.database, err = db.New(a.dbConn, &dbCfg, db.WithLogger(a.logger)); err != nil {
		return xerrors.Wrap(err, "app: create db component")
	}
	a.closers = append(a.closers, closer{"db", func(context.Context) error { return a.database.Close() }})

	if a.cfg.Redis.Addr == "" {
		return nil
	}
	if a.redisConn, err = connector.NewRedis(&a.cfg.Redis, connOpts...); err != nil {
		return xerrors.Wrap(err, "app: create redis connector")
	}
	a.closers = append(a.closers, closer{"redis connector", func(context.Context) error { return a.redisConn.Close() }})
	if err := a.redisConn.Connect(ctx); err != nil {
		return xerrors.Wrap(err, "app: connect redis")
	}
	return nil
}

func (a *App) initIdempotency() error {
	opts := []idempotency.Option{
		idempotency.WithLogger(a.logger),
		idempotency.WithMeter(a.meter),
		idempotency.WithDB(a.database),
	}
	if a.redisConn != nil {
		opts = append(opts, idempotency.WithRedisConnector(a.redisConn))
	}
	if a.cfg.Breaker.Enabled {
		brk, err := breaker.New(&a.cfg.Breaker.Config,
			breaker.WithLogger(a.logger),
			breaker.WithMeter(a.meter),
			// 客户端取消不代表存储故障
			breaker.WithSuccessClassifier(func(err error) bool {
				return err == nil || xerrors.Is(err, context.Canceled)
			}))
		if err != nil {
			return xerrors.Wrap(err, "app: create breaker")
		}
		opts = append(opts, idempotency.WithBreaker(brk))
	}

	idem, err := idempotency.New(&a.cfg.Idempotency, opts...)
	if err != nil {
		return xerrors.Wrap(err, "app: create idempotency")
	}
	a.idem = idem
	a.closers = append(a.closers, closer{"idempotency", func(context.Context) error { return a.idem.Close() }})
	return nil
}

func (a *App) newEngine() (*gin.Engine, error) {
	httpMetrics, err := metrics.NewHTTPServerMetrics(a.meter, a.cfg.Name)
	if err != nil {
		return nil, err
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(trace.GinMiddleware(a.cfg.Name))
	r.Use(httpMetrics.GinMiddleware())

	r.GET("/healthz", a.healthz)
	if a.cfg.Metrics.Enabled && a.cfg.Metrics.Port == 0 {
		r.GET(a.cfg.Metrics.Path, gin.WrapH(a.meter.Handler()))
	}

	v1 := r.Group("/v1")
	if a.auth != nil {
		v1.Use(a.auth.OptionalGinMiddleware())
	}
	if a.limiter != nil {
		// 与幂等作用域使用同一个调用方标识
		v1.Use(ratelimit.GinMiddleware(a.limiter, a.cfg.RateLimit.Limit, func(c *gin.Context) string {
			return idempotency.ResolveScope(auth.Identity(c), c.ClientIP(), c.Request.UserAgent())
		}))
	}
	v1.Use(a.idem.GinMiddleware(idempotency.WithIdentity(auth.Identity)))
	v1.POST("/invoices", a.createInvoice)

	// 运维接口必须认证，未配置认证时不注册
	if a.auth != nil {
		admin := r.Group("/admin", a.auth.GinMiddleware(), auth.RequireRoles("admin"))
		admin.POST("/idempotency/unstick", a.unstick)
	}
	return r, nil
}

// Handler 返回 HTTP 处理器，测试可直接配合 httptest 使用
func (a *App) Handler() http.Handler {
	return a.engine
}

// Run 启动 HTTP（以及可选的 gRPC）服务，阻塞到 ctx 取消或服务出错，随后优雅停止服务。
// 组件资源由 Close 释放。
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTP.Addr,
		Handler:           a.engine,
		ReadHeaderTimeout: a.cfg.HTTP.ReadHeaderTimeout,
	}

	errCh := make(chan error, 2)
	go func() {
		a.logger.Info("http listening", clog.String("addr", a.cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && !xerrors.Is(err, http.ErrServerClosed) {
			errCh <- xerrors.Wrap(err, "app: http serve")
		}
	}()

	if a.grpcServer != nil {
		lis, err := net.Listen("tcp", a.cfg.GRPC.Addr)
		if err != nil {
			_ = srv.Close()
			return xerrors.Wrap(err, "app: grpc listen")
		}
		go func() {
			a.logger.Info("grpc listening", clog.String("addr", lis.Addr().String()))
			if err := a.grpcServer.Serve(lis); err != nil {
				errCh <- xerrors.Wrap(err, "app: grpc serve")
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutting down")
	case runErr = <-errCh:
		a.logger.Error("server failed, shutting down", clog.Error(runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if a.health != nil {
		a.health.Shutdown()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http shutdown failed", clog.Error(err))
	}
	if a.grpcServer != nil {
		a.grpcServer.GracefulStop()
	}
	return runErr
}

// WatchLogLevel 配置文件中 log.level 变化时调整日志级别
func (a *App) WatchLogLevel(ctx context.Context, loader config.Loader) error {
	ch, err := loader.Watch(ctx, "log.level")
	if err != nil {
		return err
	}
	go func() {
		for ev := range ch {
			level, err := clog.ParseLevel(fmt.Sprint(ev.Value))
			if err != nil {
				a.logger.Warn("ignore invalid log level", clog.Any("value", ev.Value), clog.Error(err))
				continue
			}
			if err := a.logger.SetLevel(level); err != nil {
				a.logger.Warn("set log level failed", clog.Error(err))
				continue
			}
			a.logger.Info("log level changed", clog.String("level", level.String()))
		}
	}()
	return nil
}

// Close 按创建的逆序释放组件，可重复调用
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(ctx); err != nil {
			errs = append(errs, xerrors.Wrapf(err, "close %s", c.name))
		}
	}
	a.closers = nil
	if a.logger != nil {
		a.logger.Flush()
	}
	return xerrors.Combine(errs...)
}
