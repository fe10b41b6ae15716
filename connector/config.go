package connector

import (
	"time"

	"github.com/ceyewan/fieldops/xerrors"
)

// PoolConfig 数据库连接池配置，内嵌到各关系型数据库配置中
type PoolConfig struct {
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`    // 最大空闲连接数 (默认: 10)
	MaxOpenConns    int           `mapstructure:"max_open_conns"`    // 最大打开连接数 (默认: 100)
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"` // 连接最大生命周期 (默认: 1h)
}

func (p *PoolConfig) setDefaults() {
	if p.MaxIdleConns == 0 {
		p.MaxIdleConns = 10
	}
	if p.MaxOpenConns == 0 {
		p.MaxOpenConns = 100
	}
	if p.ConnMaxLifetime == 0 {
		p.ConnMaxLifetime = time.Hour
	}
}

// ============================================================================
// SQLite
// ============================================================================

// SQLiteConfig SQLite 连接配置
type SQLiteConfig struct {
	Name string `mapstructure:"name"` // 连接器名称 (默认: "default")
	// Path 数据库文件路径，也可以是 "file:xxx?mode=memory&cache=shared" 形式的内存库
	Path string `mapstructure:"path"`

	PoolConfig `mapstructure:",squash"`
}

func (c *SQLiteConfig) setDefaults() {
	if c.Name == "" {
		c.Name = "default"
	}
	// SQLite 只允许单写者，默认串行化连接
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 1
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 1
	}
	c.PoolConfig.setDefaults()
}

func (c *SQLiteConfig) validate() error {
	c.setDefaults()
	if c.Path == "" {
		return xerrors.Wrap(ErrConfig, "sqlite path is required")
	}
	return nil
}

// ============================================================================
// PostgreSQL
// ============================================================================

// PostgreSQLConfig PostgreSQL 连接配置
type PostgreSQLConfig struct {
	Name string `mapstructure:"name"` // 连接器名称 (默认: "default")
	DSN  string `mapstructure:"dsn"`  // 完整 DSN，提供时忽略下面的分项字段

	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"` // 默认: 5432
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"` // 默认: "disable"
	Timezone string `mapstructure:"timezone"` // 默认: "UTC"

	PoolConfig `mapstructure:",squash"`
}

func (c *PostgreSQLConfig) setDefaults() {
	if c.Name == "" {
		c.Name = "default"
	}
	if c.Port == 0 {
		c.Port = 5432
	}
	if c.SSLMode == "" {
		c.SSLMode = "disable"
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	c.PoolConfig.setDefaults()
}

func (c *PostgreSQLConfig) validate() error {
	c.setDefaults()
	if c.DSN != "" {
		return nil
	}
	if c.Host == "" {
		return xerrors.Wrap(ErrConfig, "postgresql host is required")
	}
	if c.Username == "" {
		return xerrors.Wrap(ErrConfig, "postgresql username is required")
	}
	if c.Database == "" {
		return xerrors.Wrap(ErrConfig, "postgresql database is required")
	}
	return nil
}

// ============================================================================
// MySQL
// ============================================================================

// MySQLConfig MySQL 连接配置
type MySQLConfig struct {
	Name string `mapstructure:"name"` // 连接器名称 (默认: "default")
	DSN  string `mapstructure:"dsn"`  // 完整 DSN，提供时忽略下面的分项字段

	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"` // 默认: 3306
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	Charset  string `mapstructure:"charset"` // 默认: "utf8mb4"

	PoolConfig `mapstructure:",squash"`
}

func (c *MySQLConfig) setDefaults() {
	if c.Name == "" {
		c.Name = "default"
	}
	if c.Port == 0 {
		c.Port = 3306
	}
	if c.Charset == "" {
		c.Charset = "utf8mb4"
	}
	c.PoolConfig.setDefaults()
}

func (c *MySQLConfig) validate() error {
	c.setDefaults()
	if c.DSN != "" {
		return nil
	}
	if c.Host == "" {
		return xerrors.Wrap(ErrConfig, "mysql host is required")
	}
	if c.Username == "" {
		return xerrors.Wrap(ErrConfig, "mysql username is required")
	}
	if c.Database == "" {
		return xerrors.Wrap(ErrConfig, "mysql database is required")
	}
	return nil
}

// ============================================================================
// Redis
// ============================================================================

// RedisConfig Redis 连接配置
type RedisConfig struct {
	Name     string `mapstructure:"name"` // 连接器名称 (默认: "default")
	Addr     string `mapstructure:"addr"` // [必填] 如 "127.0.0.1:6379"
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`

	PoolSize     int           `mapstructure:"pool_size"`      // 默认: 10
	MinIdleConns int           `mapstructure:"min_idle_conns"` // 默认: 0
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`   // 默认: 5s
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`   // 默认: 3s
	WriteTimeout time.Duration `mapstructure:"write_timeout"`  // 默认: 3s
}

func (c *RedisConfig) setDefaults() {
	if c.Name == "" {
		c.Name = "default"
	}
	if c.PoolSize <= 0 {
		c.PoolSize = 10
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 3 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 3 * time.Second
	}
}

func (c *RedisConfig) validate() error {
	c.setDefaults()
	if c.Addr == "" {
		return xerrors.Wrap(ErrConfig, "redis addr is required")
	}
	if c.DB < 0 {
		return xerrors.Wrap(ErrConfig, "redis db must not be negative")
	}
	return nil
}
