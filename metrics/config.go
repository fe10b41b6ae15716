package metrics

import "github.com/ceyewan/fieldops/xerrors"

// Config 指标系统配置
//
//	metrics:
//	  enabled: true
//	  service_name: "fieldops-api"
//	  port: 9090
//	  path: "/metrics"
type Config struct {
	// Enabled 为 false 时 New 返回 noop Meter
	Enabled bool `mapstructure:"enabled"`

	ServiceName string `mapstructure:"service_name"`
	Version     string `mapstructure:"version"`

	// Port 大于 0 时启动独立的 Prometheus HTTP 服务器
	Port int    `mapstructure:"port"`
	Path string `mapstructure:"path"` // 默认: "/metrics"

	// RuntimeMetrics 采集 Go 运行时指标（GC、goroutine、内存）
	RuntimeMetrics bool `mapstructure:"runtime_metrics"`
}

func (c *Config) setDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "fieldops"
	}
	if c.Path == "" {
		c.Path = "/metrics"
	}
}

func (c *Config) validate() error {
	c.setDefaults()
	if c.Port < 0 || c.Port > 65535 {
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "metrics: invalid port %d", c.Port)
	}
	if c.Path[0] != '/' {
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "metrics: path must start with '/': %q", c.Path)
	}
	return nil
}

// NewDevDefaultConfig 开发与测试用配置：启用采集，不监听端口
func NewDevDefaultConfig(serviceName string) *Config {
	return &Config{
		Enabled:     true,
		ServiceName: serviceName,
		Version:     "dev",
		Path:        "/metrics",
	}
}
