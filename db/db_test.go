package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"gorm.io/gorm"

	"github.com/ceyewan/fieldops/testkit"
)

type testWorkOrder struct {
	ID       uint   `gorm:"primaryKey"`
	TenantID string `gorm:"size:64;index"`
	Title    string `gorm:"size:200"`
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"defaults", Config{}, false},
		{"bad log level", Config{LogLevel: "verbose"}, true},
		{"empty sharding key", Config{Sharding: &ShardingRule{NumberOfShards: 2, Tables: []string{"t"}}}, true},
		{"zero shards", Config{Sharding: &ShardingRule{ShardingKey: "k", Tables: []string{"t"}}}, true},
		{"no tables", Config{Sharding: &ShardingRule{ShardingKey: "k", NumberOfShards: 2}}, true},
		{"empty table", Config{Sharding: &ShardingRule{ShardingKey: "k", NumberOfShards: 2, Tables: []string{""}}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.setDefaults()
			err := tt.cfg.validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewRequiresConnectedConnector(t *testing.T) {
	_, err := New(nil, nil)
	assert.ErrorIs(t, err, ErrConnectorRequired)
}

func TestCRUDAndTransaction(t *testing.T) {
	conn := testkit.NewSQLiteConnector(t)
	database, err := New(conn, &Config{LogLevel: "info"}, WithLogger(testkit.NewLogger()))
	require.NoError(t, err)
	defer database.Close()

	ctx := context.Background()
	assert.Equal(t, "sqlite", database.Dialect())
	require.NoError(t, database.DB(ctx).AutoMigrate(&testWorkOrder{}))

	wo := testWorkOrder{TenantID: "acme", Title: "replace filter"}
	require.NoError(t, database.DB(ctx).Create(&wo).Error)
	assert.NotZero(t, wo.ID)

	t.Run("Commit", func(t *testing.T) {
		err := database.Transaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
			return tx.Create(&testWorkOrder{TenantID: "acme", Title: "inspect"}).Error
		})
		require.NoError(t, err)

		var count int64
		database.DB(ctx).Model(&testWorkOrder{}).Where("tenant_id = ?", "acme").Count(&count)
		assert.Equal(t, int64(2), count)
	})

	t.Run("Rollback", func(t *testing.T) {
		boom := errors.New("boom")
		err := database.Transaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
			if err := tx.Create(&testWorkOrder{TenantID: "globex", Title: "lost"}).Error; err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)

		var count int64
		database.DB(ctx).Model(&testWorkOrder{}).Where("tenant_id = ?", "globex").Count(&count)
		assert.Zero(t, count)
	})

	t.Run("NotFoundIsNotLoggedAsError", func(t *testing.T) {
		var missing testWorkOrder
		err := database.DB(ctx).First(&missing, 99999).Error
		assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	})
}

func TestTracingPlugin(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	conn := testkit.NewSQLiteConnector(t)
	database, err := New(conn, &Config{EnableTracing: true, LogLevel: "silent"}, WithTracer(tp))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, database.DB(ctx).AutoMigrate(&testWorkOrder{}))
	require.NoError(t, database.DB(ctx).Create(&testWorkOrder{TenantID: "acme"}).Error)

	assert.NotEmpty(t, recorder.Ended(), "otelgorm 应为 SQL 生成 Span")
}

// shardedVisit 按 technician_id 分表
type shardedVisit struct {
	ID           int64  `gorm:"primaryKey"`
	TechnicianID int64  `gorm:"column:technician_id"`
	Site         string `gorm:"column:site;size:100"`
}

func (shardedVisit) TableName() string { return "visits" }

func TestSharding(t *testing.T) {
	conn := testkit.NewSQLiteConnector(t)
	database, err := New(conn, &Config{
		LogLevel: "silent",
		Sharding: &ShardingRule{ShardingKey: "technician_id", NumberOfShards: 2, Tables: []string{"visits"}},
	})
	require.NoError(t, err)

	ctx := context.Background()
	gdb := database.DB(ctx)
	for i := 0; i < 2; i++ {
		require.NoError(t, gdb.Exec(fmt.Sprintf(`CREATE TABLE IF NOT EXISTS visits_%d (
			id INTEGER PRIMARY KEY,
			technician_id INTEGER NOT NULL,
			site TEXT NOT NULL
		)`, i)).Error)
	}

	require.NoError(t, gdb.Create(&shardedVisit{TechnicianID: 100, Site: "north"}).Error)
	require.NoError(t, gdb.Create(&shardedVisit{TechnicianID: 101, Site: "south"}).Error)

	var got shardedVisit
	require.NoError(t, gdb.Model(&shardedVisit{}).Where("technician_id = ?", 101).First(&got).Error)
	assert.Equal(t, "south", got.Site)
}
