package config

import (
	"strings"

	"github.com/ceyewan/fieldops/clog"
)

// Config 加载器配置
type Config struct {
	Name      string         // 配置文件名称（不含扩展名），默认 "config"
	Paths     []string       // 搜索路径，默认 [".", "./config"]
	FileType  string         // yaml | json | toml，默认 yaml
	EnvPrefix string         // 环境变量前缀，默认 "FIELDOPS"
	Defaults  map[string]any // 默认值，同时让仅由环境变量提供的 key 能被 Unmarshal 识别
}

// Option 加载器选项
type Option func(*options)

type options struct {
	logger clog.Logger
}

// WithLogger 注入日志记录器，自动添加 "config" 命名空间
func WithLogger(l clog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l.WithNamespace("config")
		}
	}
}

func (c *Config) setDefaults() {
	if c.Name == "" {
		c.Name = "config"
	}
	if c.Paths == nil {
		c.Paths = []string{".", "./config"}
	}
	if c.FileType == "" {
		c.FileType = "yaml"
	}
	if c.EnvPrefix == "" {
		c.EnvPrefix = "FIELDOPS"
	}
	c.EnvPrefix = strings.ToUpper(c.EnvPrefix)
}

// New 创建配置加载器，cfg 为 nil 时使用默认配置
func New(cfg *Config, opts ...Option) (Loader, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.setDefaults()

	o := &options{logger: clog.Discard()}
	for _, opt := range opts {
		opt(o)
	}

	return newLoader(cfg, o), nil
}
