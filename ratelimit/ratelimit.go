// Package ratelimit 为写接口提供按调用方划分的令牌桶限流。
//
// 单机模式基于 golang.org/x/time/rate，每个键一个桶，空闲桶定期回收；
// 分布式模式把桶状态放在 Redis 中，由 Lua 脚本原子地计算放行时间，多个实例共享配额。
//
//	limiter, _ := ratelimit.New(&ratelimit.Config{Mode: ratelimit.ModeStandalone},
//	    ratelimit.WithLogger(logger))
//	r.Use(ratelimit.GinMiddleware(limiter, ratelimit.Limit{Rate: 10, Burst: 20}, keyFunc))
package ratelimit

import (
	"context"
	"time"

	"github.com/ceyewan/fieldops/xerrors"
)

// Limit 令牌桶参数：每秒补充 Rate 个令牌，桶容量 Burst
type Limit struct {
	Rate  float64 `mapstructure:"rate"`
	Burst int     `mapstructure:"burst"`
}

func (l Limit) valid() bool {
	return l.Rate > 0 && l.Burst > 0
}

// RetryAfter 拒绝后建议客户端等待的时间，即补充一个令牌所需的时间
func (l Limit) RetryAfter() time.Duration {
	if l.Rate <= 0 {
		return time.Second
	}
	return time.Duration(float64(time.Second) / l.Rate)
}

// Limiter 限流器
type Limiter interface {
	// Allow 尝试为 key 取 1 个令牌
	Allow(ctx context.Context, key string, limit Limit) (bool, error)
	// AllowN 尝试为 key 取 n 个令牌，令牌不足时不消耗
	AllowN(ctx context.Context, key string, limit Limit, n int) (bool, error)
	// Close 释放后台资源，Redis 连接由连接器管理
	Close() error
}

// Mode 限流模式
type Mode string

const (
	ModeStandalone  Mode = "standalone"
	ModeDistributed Mode = "distributed"
)

// Config 限流器配置
type Config struct {
	Mode Mode `mapstructure:"mode"`

	// 分布式模式的 Redis 键前缀
	Prefix string `mapstructure:"prefix"`

	// 单机模式回收空闲桶
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
}

func (c *Config) setDefaults() {
	if c.Mode == "" {
		c.Mode = ModeStandalone
	}
	if c.Prefix == "" {
		c.Prefix = "fieldops:ratelimit:"
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = time.Minute
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 5 * time.Minute
	}
}

func (c *Config) validate() error {
	switch c.Mode {
	case ModeStandalone, ModeDistributed:
	default:
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "ratelimit: unknown mode %q", c.Mode)
	}
	return nil
}

// New 按 Mode 创建限流器。分布式模式必须通过 WithRedisConnector 提供连接器。
func New(cfg *Config, opts ...Option) (Limiter, error) {
	if cfg == nil {
		return nil, ErrConfigNil
	}
	c := *cfg
	c.setDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	m, err := newLimiterMetrics(o.meter, c.Mode)
	if err != nil {
		return nil, err
	}

	if c.Mode == ModeDistributed {
		return newDistributed(&c, o.redis, o.logger, m)
	}
	return newStandalone(&c, o.logger, m), nil
}
