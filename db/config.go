package db

import (
	"time"

	"github.com/ceyewan/fieldops/xerrors"
)

// Config DB 组件配置
type Config struct {
	// LogLevel SQL 日志级别: "silent" | "error" | "warn" | "info"，默认 "warn"
	LogLevel string `mapstructure:"log_level"`

	// SlowThreshold 超过该耗时的 SQL 以 warn 记录，默认 200ms
	SlowThreshold time.Duration `mapstructure:"slow_threshold"`

	// EnableTracing 通过 otelgorm 为每条 SQL 创建 Span
	EnableTracing bool `mapstructure:"enable_tracing"`

	// Sharding 非空时启用按整数键分表，同一个 *gorm.DB 上只能注册一套规则
	Sharding *ShardingRule `mapstructure:"sharding"`
}

// ShardingRule 分片规则，分片键必须是整数列
type ShardingRule struct {
	ShardingKey    string   `mapstructure:"sharding_key"`
	NumberOfShards uint     `mapstructure:"number_of_shards"`
	Tables         []string `mapstructure:"tables"`
}

func (c *Config) setDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "warn"
	}
	if c.SlowThreshold == 0 {
		c.SlowThreshold = 200 * time.Millisecond
	}
}

func (c *Config) validate() error {
	switch c.LogLevel {
	case "silent", "error", "warn", "info":
	default:
		return xerrors.Wrapf(ErrInvalidConfig, "unsupported log level %q", c.LogLevel)
	}

	if rule := c.Sharding; rule != nil {
		if rule.ShardingKey == "" {
			return xerrors.Wrap(ErrInvalidConfig, "sharding key cannot be empty")
		}
		if rule.NumberOfShards == 0 {
			return xerrors.Wrap(ErrInvalidConfig, "number of shards must be greater than 0")
		}
		if len(rule.Tables) == 0 {
			return xerrors.Wrap(ErrInvalidConfig, "sharding tables cannot be empty")
		}
		for _, table := range rule.Tables {
			if table == "" {
				return xerrors.Wrap(ErrInvalidConfig, "sharding table name cannot be empty")
			}
		}
	}
	return nil
}
