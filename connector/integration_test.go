package connector_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/fieldops/testkit"
)

func TestRedisConnectorIntegration(t *testing.T) {
	conn := testkit.NewRedisConnector(t)
	ctx := context.Background()

	require.NoError(t, conn.HealthCheck(ctx))
	assert.True(t, conn.IsHealthy())

	client := conn.GetClient()
	key := "connector:" + testkit.NewID()
	require.NoError(t, client.Set(ctx, key, "v", 0).Err())
	got, err := client.Get(ctx, key).Result()
	require.NoError(t, err)
	assert.Equal(t, "v", got)
}

func TestPostgreSQLConnectorIntegration(t *testing.T) {
	conn := testkit.NewPostgreSQLConnector(t)
	ctx := context.Background()

	require.NoError(t, conn.HealthCheck(ctx))
	assert.Equal(t, "postgres", conn.Dialect())

	var one int
	require.NoError(t, conn.GetClient().Raw("SELECT 1").Scan(&one).Error)
	assert.Equal(t, 1, one)
}

func TestMySQLConnectorIntegration(t *testing.T) {
	conn := testkit.NewMySQLConnector(t)

	require.NoError(t, conn.HealthCheck(context.Background()))
	assert.Equal(t, "mysql", conn.Dialect())
}
