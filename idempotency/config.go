package idempotency

import (
	"time"

	"github.com/ceyewan/fieldops/xerrors"
)

// DriverType 幂等记录存储后端
type DriverType string

const (
	// DriverDatabase 关系型数据库（系统记录），通过 db 组件访问
	DriverDatabase DriverType = "database"
	// DriverRedis Redis 哈希 + Lua 脚本
	DriverRedis DriverType = "redis"
	// DriverMemory 进程内存，仅用于单机开发与测试
	DriverMemory DriverType = "memory"
)

// FailurePolicy 存储故障时 Begin 的行为
type FailurePolicy string

const (
	// FailOpen 放行请求但不做去重，记录错误日志与指标
	FailOpen FailurePolicy = "open"
	// FailClosed 拒绝请求，HTTP 返回 503
	FailClosed FailurePolicy = "closed"
)

// Config 幂等组件配置
type Config struct {
	// Driver 存储后端: "database" | "redis" | "memory"（默认 "database"）
	Driver DriverType `mapstructure:"driver"`

	// Prefix Redis 键前缀（默认 "fieldops:idem:"）
	Prefix string `mapstructure:"prefix"`

	// FailurePolicy 存储故障策略: "open" | "closed"（默认 "open"）
	FailurePolicy FailurePolicy `mapstructure:"failure_policy"`

	// ProcessingTTL 处理中记录的租约时长，0 表示不启用租约，
	// 此时崩溃遗留的记录只能通过 Unstick 人工解除
	ProcessingTTL time.Duration `mapstructure:"processing_ttl"`

	// LeaseRefreshInterval 处理期间续租周期（默认 ProcessingTTL/3）
	LeaseRefreshInterval time.Duration `mapstructure:"lease_refresh_interval"`

	// RetryAfter 返回 in-progress 时建议的重试间隔（默认 1s）
	RetryAfter time.Duration `mapstructure:"retry_after"`

	// MaxBodyBytes 中间件读取请求体的上限（默认 1 MiB）
	MaxBodyBytes int64 `mapstructure:"max_body_bytes"`

	// ReplayCacheSize 已完成记录的本地缓存条目数，0 表示不启用
	ReplayCacheSize int `mapstructure:"replay_cache_size"`

	// SkipMigrate 为 true 时不在启动时建表，由外部迁移工具负责
	SkipMigrate bool `mapstructure:"skip_migrate"`
}

func (c *Config) setDefaults() {
	if c.Driver == "" {
		c.Driver = DriverDatabase
	}
	if c.Prefix == "" {
		c.Prefix = "fieldops:idem:"
	}
	if c.FailurePolicy == "" {
		c.FailurePolicy = FailOpen
	}
	if c.ProcessingTTL > 0 && c.LeaseRefreshInterval <= 0 {
		c.LeaseRefreshInterval = c.ProcessingTTL / 3
	}
	if c.RetryAfter <= 0 {
		c.RetryAfter = time.Second
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 1 << 20
	}
}

func (c *Config) validate() error {
	switch c.Driver {
	case DriverDatabase, DriverRedis, DriverMemory:
	default:
		return xerrors.Wrapf(ErrUnknownDriver, "driver %q", c.Driver)
	}
	switch c.FailurePolicy {
	case FailOpen, FailClosed:
	default:
		return xerrors.Wrapf(ErrUnknownPolicy, "policy %q", c.FailurePolicy)
	}
	if c.ProcessingTTL < 0 || c.ReplayCacheSize < 0 {
		return xerrors.Wrap(xerrors.ErrInvalidInput, "idempotency: negative processing_ttl or replay_cache_size")
	}
	if c.ProcessingTTL > 0 && c.LeaseRefreshInterval >= c.ProcessingTTL {
		return ErrInvalidTimings
	}
	return nil
}
