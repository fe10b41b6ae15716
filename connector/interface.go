// Package connector 管理 fieldops 使用的外部连接：关系型数据库与 Redis。
//
// 连接器遵循"谁创建，谁负责释放"：应用层创建并 Close，
// 上层组件（db、幂等存储）只借用 GetClient() 返回的客户端。
//
// 基本使用：
//
//	conn, err := connector.NewSQLite(&connector.SQLiteConfig{Path: "fieldops.db"},
//		connector.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//	defer conn.Close()
//	if err := conn.Connect(ctx); err != nil {
//		return err
//	}
//	gormDB := conn.GetClient()
package connector

import (
	"context"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// ============================================================================
// 基础接口
// ============================================================================

// Connector 所有连接器的通用行为，方法均并发安全。
type Connector interface {
	// Connect 建立连接，幂等。
	Connect(ctx context.Context) error
	// Close 关闭连接并释放资源，幂等。
	Close() error
	// HealthCheck 主动探测连接，并刷新 IsHealthy 的缓存结果。
	HealthCheck(ctx context.Context) error
	// IsHealthy 返回最近一次探测的结果，不阻塞。
	IsHealthy() bool
	// Name 连接器实例名，用于日志与指标。
	Name() string
}

// TypedConnector 提供类型安全的客户端访问。
// Connect 之前或 Close 之后 GetClient 可能返回 nil。
type TypedConnector[T any] interface {
	Connector
	GetClient() T
}

// ============================================================================
// 具体连接器
// ============================================================================

// RedisConnector Redis 连接器。
type RedisConnector interface {
	TypedConnector[*redis.Client]
}

// DatabaseConnector 基于 GORM 的关系型数据库连接器。
// Dialect 返回 "sqlite"、"postgres" 或 "mysql"，上层据此处理方言差异。
type DatabaseConnector interface {
	TypedConnector[*gorm.DB]
	Dialect() string
}

// MySQLConnector MySQL 连接器。
type MySQLConnector interface {
	DatabaseConnector
}

// PostgreSQLConnector PostgreSQL 连接器。
type PostgreSQLConnector interface {
	DatabaseConnector
}

// SQLiteConnector SQLite 连接器，适合测试与单机部署。
type SQLiteConnector interface {
	DatabaseConnector
}
