// Package config 为 fieldops 提供统一的配置加载能力，基于 Viper 实现。
//
// 配置优先级（高到低）：环境变量 > .env 文件 > 环境特定配置 > 基础配置。
// 环境特定配置由 {PREFIX}_ENV 决定，例如 FIELDOPS_ENV=prod 时额外合并
// config.prod.yaml。
//
// 基本使用：
//
//	loader, _ := config.New(&config.Config{Name: "config", Paths: []string{"./config"}})
//	if err := loader.Load(ctx); err != nil {
//		return err
//	}
//	var cfg app.Config
//	_ = loader.Unmarshal(&cfg)
//
//	// 监听某个 key 的变化（例如运行时调整日志级别）
//	ch, _ := loader.Watch(ctx, "log.level")
package config

import (
	"context"
	"time"
)

// Loader 配置加载器
type Loader interface {
	// Load 从所有来源加载配置并启动文件监听
	Load(ctx context.Context) error

	// Get 获取原始配置值
	Get(key string) any

	// Unmarshal 将整个配置反序列化到结构体（mapstructure 标签）
	Unmarshal(v any) error

	// UnmarshalKey 将指定 Key 的配置反序列化到结构体
	UnmarshalKey(key string, v any) error

	// Watch 监听配置变化，ctx 取消时关闭通道
	Watch(ctx context.Context, key string) (<-chan Event, error)

	// Validate 验证当前配置的有效性
	Validate() error
}

// Event 配置变更事件
type Event struct {
	Key       string
	Value     any
	OldValue  any
	Source    string // "file"
	Timestamp time.Time
}
