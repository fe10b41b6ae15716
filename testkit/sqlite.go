package testkit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ceyewan/fieldops/connector"
)

// NewSQLiteConfig 返回独立的内存库配置。
// 每次调用使用不同的库名，shared cache 让同一连接器内的连接看到同一份数据。
func NewSQLiteConfig() *connector.SQLiteConfig {
	return &connector.SQLiteConfig{
		Name: "test-sqlite",
		Path: "file:" + NewID() + "?mode=memory&cache=shared",
	}
}

// NewSQLiteConnector 获取已连接的 SQLite 内存库连接器，生命周期由 t.Cleanup 管理
func NewSQLiteConnector(t *testing.T) connector.SQLiteConnector {
	t.Helper()
	conn, err := connector.NewSQLite(NewSQLiteConfig(), connector.WithLogger(NewLogger()))
	require.NoError(t, err, "failed to create sqlite connector")
	require.NoError(t, conn.Connect(context.Background()), "failed to connect to sqlite")
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// NewSQLiteDB 获取 GORM 实例
func NewSQLiteDB(t *testing.T) *gorm.DB {
	return NewSQLiteConnector(t).GetClient()
}
