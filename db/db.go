// Package db 在 connector 提供的 *gorm.DB 之上封装事务、SQL 日志、链路追踪与分表。
//
// db 组件借用连接器的连接，不负责其生命周期：
//
//	conn, _ := connector.NewSQLite(&connector.SQLiteConfig{Path: "fieldops.db"})
//	_ = conn.Connect(ctx)
//	defer conn.Close()
//
//	database, _ := db.New(conn, &db.Config{EnableTracing: true}, db.WithLogger(logger))
//	err := database.Transaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
//		return tx.Create(&invoice).Error
//	})
package db

import (
	"context"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"gorm.io/gorm"
	"gorm.io/sharding"

	"github.com/ceyewan/fieldops/clog"
	"github.com/ceyewan/fieldops/connector"
	"github.com/ceyewan/fieldops/xerrors"
)

// DB 数据库组件
type DB interface {
	// DB 返回绑定了 ctx 的 *gorm.DB，业务查询直接使用
	DB(ctx context.Context) *gorm.DB

	// Transaction 在事务中执行 fn，fn 返回错误时回滚
	Transaction(ctx context.Context, fn func(ctx context.Context, tx *gorm.DB) error) error

	// Dialect 底层数据库方言: "sqlite" | "postgres" | "mysql"
	Dialect() string

	// Close 释放组件自身的资源，不关闭连接器
	Close() error
}

type database struct {
	client  *gorm.DB
	dialect string
	logger  clog.Logger
}

// New 基于已连接的连接器创建 DB 组件
func New(conn connector.DatabaseConnector, cfg *Config, opts ...Option) (DB, error) {
	if conn == nil || conn.GetClient() == nil {
		return nil, ErrConnectorRequired
	}
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	o := &options{logger: clog.Discard()}
	for _, opt := range opts {
		opt(o)
	}

	// Session 派生出的实例共享回调，插件注册在它上面即可对本组件生效
	client := conn.GetClient().Session(&gorm.Session{
		Logger: newGormLogger(o.logger, cfg.LogLevel, cfg.SlowThreshold),
	})

	if cfg.EnableTracing {
		var pluginOpts []otelgorm.Option
		if o.tracer != nil {
			pluginOpts = append(pluginOpts, otelgorm.WithTracerProvider(o.tracer))
		}
		pluginOpts = append(pluginOpts, otelgorm.WithoutQueryVariables())
		if err := client.Use(otelgorm.NewPlugin(pluginOpts...)); err != nil {
			return nil, xerrors.Wrap(err, "db: register otelgorm plugin")
		}
	}

	if rule := cfg.Sharding; rule != nil {
		tables := make([]any, len(rule.Tables))
		for i, v := range rule.Tables {
			tables[i] = v
		}
		middleware := sharding.Register(sharding.Config{
			ShardingKey:         rule.ShardingKey,
			NumberOfShards:      rule.NumberOfShards,
			PrimaryKeyGenerator: sharding.PKSnowflake,
		}, tables...)
		if err := client.Use(middleware); err != nil {
			return nil, xerrors.Wrapf(err, "db: register sharding for tables %v", rule.Tables)
		}
	}

	o.logger.Info("db component ready",
		clog.String("dialect", conn.Dialect()),
		clog.Bool("tracing", cfg.EnableTracing),
		clog.Bool("sharding", cfg.Sharding != nil))

	return &database{
		client:  client,
		dialect: conn.Dialect(),
		logger:  o.logger,
	}, nil
}

func (d *database) DB(ctx context.Context) *gorm.DB {
	return d.client.WithContext(ctx)
}

func (d *database) Transaction(ctx context.Context, fn func(ctx context.Context, tx *gorm.DB) error) error {
	return d.client.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, tx)
	})
}

func (d *database) Dialect() string {
	return d.dialect
}

// Close 连接由连接器管理，这里无需释放
func (d *database) Close() error {
	return nil
}
