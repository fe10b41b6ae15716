package connector

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     interface{ validate() error }
		wantErr bool
	}{
		{"sqlite ok", &SQLiteConfig{Path: "file::memory:"}, false},
		{"sqlite missing path", &SQLiteConfig{}, true},
		{"postgres dsn only", &PostgreSQLConfig{DSN: "postgres://u:p@h/db"}, false},
		{"postgres fields", &PostgreSQLConfig{Host: "h", Username: "u", Database: "d"}, false},
		{"postgres missing host", &PostgreSQLConfig{Username: "u", Database: "d"}, true},
		{"mysql missing database", &MySQLConfig{Host: "h", Username: "u"}, true},
		{"redis ok", &RedisConfig{Addr: "127.0.0.1:6379"}, false},
		{"redis missing addr", &RedisConfig{}, true},
		{"redis negative db", &RedisConfig{Addr: "127.0.0.1:6379", DB: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrConfig))
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	sqlite := &SQLiteConfig{Path: "x.db"}
	require.NoError(t, sqlite.validate())
	assert.Equal(t, "default", sqlite.Name)
	assert.Equal(t, 1, sqlite.MaxOpenConns)

	pg := &PostgreSQLConfig{Host: "h", Username: "u", Database: "d"}
	require.NoError(t, pg.validate())
	assert.Equal(t, 5432, pg.Port)
	assert.Equal(t, "disable", pg.SSLMode)
	assert.Equal(t, 100, pg.MaxOpenConns)

	rc := &RedisConfig{Addr: "127.0.0.1:6379"}
	require.NoError(t, rc.validate())
	assert.Equal(t, 10, rc.PoolSize)
}

func TestNilConfig(t *testing.T) {
	_, err := NewSQLite(nil)
	assert.ErrorIs(t, err, ErrConfig)
	_, err = NewPostgreSQL(nil)
	assert.ErrorIs(t, err, ErrConfig)
	_, err = NewMySQL(nil)
	assert.ErrorIs(t, err, ErrConfig)
	_, err = NewRedis(nil)
	assert.ErrorIs(t, err, ErrConfig)
}

func TestSQLiteLifecycle(t *testing.T) {
	conn, err := NewSQLite(&SQLiteConfig{Name: "lifecycle", Path: "file:lifecycle?mode=memory&cache=shared"})
	require.NoError(t, err)
	ctx := context.Background()

	assert.Nil(t, conn.GetClient())
	assert.False(t, conn.IsHealthy())
	assert.ErrorIs(t, conn.HealthCheck(ctx), ErrClientNil)

	require.NoError(t, conn.Connect(ctx))
	require.NoError(t, conn.Connect(ctx), "Connect 应幂等")
	assert.True(t, conn.IsHealthy())
	assert.Equal(t, "sqlite", conn.Dialect())
	assert.Equal(t, "lifecycle", conn.Name())

	gdb := conn.GetClient()
	require.NotNil(t, gdb)
	require.NoError(t, gdb.Exec("CREATE TABLE t (id TEXT PRIMARY KEY)").Error)
	require.NoError(t, gdb.Exec("INSERT INTO t (id) VALUES ('a')").Error)

	// TranslateError 打开后唯一键冲突统一为 gorm.ErrDuplicatedKey
	err = gdb.Exec("INSERT INTO t (id) VALUES ('a')").Error
	assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)

	require.NoError(t, conn.HealthCheck(ctx))
	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close(), "Close 应幂等")
	assert.False(t, conn.IsHealthy())
	assert.Nil(t, conn.GetClient())
}

func TestRedisCloseIsIdempotent(t *testing.T) {
	conn, err := NewRedis(&RedisConfig{Addr: "127.0.0.1:1"})
	require.NoError(t, err)
	require.NotNil(t, conn.GetClient())

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
	assert.Nil(t, conn.GetClient())
	assert.ErrorIs(t, conn.HealthCheck(context.Background()), ErrClientNil)
	assert.ErrorIs(t, conn.Connect(context.Background()), ErrClientNil)
}
