package trace

import "github.com/ceyewan/fieldops/xerrors"

// Config 链路追踪配置
//
//	trace:
//	  enabled: true
//	  endpoint: "tempo:4317"
//	  sampler: 0.1
type Config struct {
	// Enabled 为 false 时不导出 Span，但仍生成 TraceID 供日志关联
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	Endpoint    string  `mapstructure:"endpoint"` // OTLP gRPC 地址
	Sampler     float64 `mapstructure:"sampler"`  // 采样率 [0, 1]
	Batcher     string  `mapstructure:"batcher"`  // "batch"（默认）或 "simple"
	Insecure    bool    `mapstructure:"insecure"`
}

// DefaultConfig 返回默认配置
func DefaultConfig(serviceName string) *Config {
	return &Config{
		ServiceName: serviceName,
		Endpoint:    "localhost:4317",
		Sampler:     1.0,
		Batcher:     "batch",
		Insecure:    true,
	}
}

func (c *Config) validate() error {
	if c.ServiceName == "" {
		return xerrors.Wrap(xerrors.ErrInvalidInput, "trace: service_name is required")
	}
	if c.Endpoint == "" {
		return xerrors.Wrap(xerrors.ErrInvalidInput, "trace: endpoint is required")
	}
	if c.Sampler < 0 || c.Sampler > 1 {
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "trace: sampler must be between 0 and 1, got %v", c.Sampler)
	}
	if c.Batcher != "" && c.Batcher != "batch" && c.Batcher != "simple" {
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "trace: batcher must be \"batch\" or \"simple\", got %q", c.Batcher)
	}
	return nil
}
