package testkit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/ceyewan/fieldops/connector"
)

// NewRedisConnector 启动 Redis 容器并返回已连接的连接器
func NewRedisConnector(t *testing.T) connector.RedisConnector {
	t.Helper()
	RequireDocker(t)
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err, "failed to start redis container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379/tcp")
	require.NoError(t, err)

	conn, err := connector.NewRedis(&connector.RedisConfig{
		Name: "test-redis",
		Addr: host + ":" + port.Port(),
	}, connector.WithLogger(NewLogger()))
	require.NoError(t, err)
	require.NoError(t, conn.Connect(ctx))
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}
