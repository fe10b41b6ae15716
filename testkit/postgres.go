package testkit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/ceyewan/fieldops/connector"
)

// NewPostgreSQLConnector 启动 PostgreSQL 容器并返回已连接的连接器。
// Docker 不可用时跳过测试，容器与连接由 t.Cleanup 释放。
func NewPostgreSQLConnector(t *testing.T) connector.PostgreSQLConnector {
	t.Helper()
	RequireDocker(t)
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:17-alpine",
		postgres.WithDatabase("fieldops"),
		postgres.WithUsername("fieldops"),
		postgres.WithPassword("fieldops"),
		postgres.BasicWaitStrategies(),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	conn, err := connector.NewPostgreSQL(&connector.PostgreSQLConfig{
		Name: "test-postgres",
		DSN:  dsn,
	}, connector.WithLogger(NewLogger()))
	require.NoError(t, err)
	require.NoError(t, conn.Connect(ctx))
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}
