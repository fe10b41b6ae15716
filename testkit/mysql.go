package testkit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/mysql"

	"github.com/ceyewan/fieldops/connector"
)

// NewMySQLConnector 启动 MySQL 容器并返回已连接的连接器
func NewMySQLConnector(t *testing.T) connector.MySQLConnector {
	t.Helper()
	RequireDocker(t)
	ctx := context.Background()

	container, err := mysql.Run(ctx, "mysql:8.0",
		mysql.WithDatabase("fieldops"),
		mysql.WithUsername("fieldops"),
		mysql.WithPassword("fieldops"),
	)
	require.NoError(t, err, "failed to start mysql container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "parseTime=true", "loc=UTC")
	require.NoError(t, err)

	conn, err := connector.NewMySQL(&connector.MySQLConfig{
		Name: "test-mysql",
		DSN:  dsn,
	}, connector.WithLogger(NewLogger()))
	require.NoError(t, err)
	require.NoError(t, conn.Connect(ctx))
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}
