package connector

import (
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/ceyewan/fieldops/xerrors"
)

// NewMySQL 创建 MySQL 连接器，实际连接在 Connect() 时建立
func NewMySQL(cfg *MySQLConfig, opts ...Option) (MySQLConnector, error) {
	if cfg == nil {
		return nil, xerrors.Wrap(ErrConfig, "mysql config is nil")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	dsn := cfg.DSN
	if dsn == "" {
		dsn = fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=True&loc=UTC",
			cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database, cfg.Charset)
	}

	return newGormConnector("mysql", cfg.Name, cfg.PoolConfig, func() gorm.Dialector {
		return mysql.Open(dsn)
	}, applyOptions(opts)), nil
}
