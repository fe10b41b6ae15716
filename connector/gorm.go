package connector

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ceyewan/fieldops/clog"
	"github.com/ceyewan/fieldops/xerrors"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// gormConnector 三种关系型数据库共用的连接管理逻辑，
// 差异只在方言名与 Dialector 的构造。
type gormConnector struct {
	name    string
	dialect string
	dial    func() gorm.Dialector
	pool    PoolConfig
	logger  clog.Logger

	mu      sync.RWMutex
	db      *gorm.DB
	healthy atomic.Bool
}

func newGormConnector(dialect, name string, pool PoolConfig, dial func() gorm.Dialector, opt *options) *gormConnector {
	return &gormConnector{
		name:    name,
		dialect: dialect,
		dial:    dial,
		pool:    pool,
		logger:  opt.logger.With(clog.String("connector", dialect), clog.String("name", name)),
	}
}

// Connect 建立连接，已连接时直接返回
func (c *gormConnector) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db != nil {
		return nil
	}

	c.logger.Info("connecting")

	// TranslateError 让唯一键冲突统一表现为 gorm.ErrDuplicatedKey
	db, err := gorm.Open(c.dial(), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Discard,
	})
	if err != nil {
		c.logger.Error("failed to open database", clog.Error(err))
		return xerrors.Wrapf(ErrConnection, "%s connector[%s]: %v", c.dialect, c.name, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return xerrors.Wrapf(ErrConnection, "%s connector[%s]: %v", c.dialect, c.name, err)
	}
	sqlDB.SetMaxIdleConns(c.pool.MaxIdleConns)
	sqlDB.SetMaxOpenConns(c.pool.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(c.pool.ConnMaxLifetime)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		c.logger.Error("failed to ping database", clog.Error(err))
		return xerrors.Wrapf(ErrConnection, "%s connector[%s]: ping failed: %v", c.dialect, c.name, err)
	}

	c.db = db
	c.healthy.Store(true)
	c.logger.Info("connected")
	return nil
}

// Close 关闭连接
func (c *gormConnector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.healthy.Store(false)
	if c.db == nil {
		return nil
	}

	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.Close(); err != nil {
		c.logger.Error("failed to close database", clog.Error(err))
		return err
	}

	c.db = nil
	c.logger.Info("connection closed")
	return nil
}

// HealthCheck 检查连接健康状态
func (c *gormConnector) HealthCheck(ctx context.Context) error {
	c.mu.RLock()
	db := c.db
	c.mu.RUnlock()

	if db == nil {
		c.healthy.Store(false)
		return xerrors.Wrapf(ErrClientNil, "%s connector[%s]", c.dialect, c.name)
	}

	sqlDB, err := db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		c.healthy.Store(false)
		c.logger.Warn("health check failed", clog.Error(err))
		return xerrors.Wrapf(ErrHealthCheck, "%s connector[%s]: %v", c.dialect, c.name, err)
	}

	c.healthy.Store(true)
	return nil
}

func (c *gormConnector) IsHealthy() bool { return c.healthy.Load() }

func (c *gormConnector) Name() string { return c.name }

func (c *gormConnector) Dialect() string { return c.dialect }

// GetClient 返回 GORM 客户端
func (c *gormConnector) GetClient() *gorm.DB {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.db
}
