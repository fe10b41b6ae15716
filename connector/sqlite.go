package connector

import (
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/ceyewan/fieldops/xerrors"
)

// NewSQLite 创建 SQLite 连接器，实际连接在 Connect() 时建立
func NewSQLite(cfg *SQLiteConfig, opts ...Option) (SQLiteConnector, error) {
	if cfg == nil {
		return nil, xerrors.Wrap(ErrConfig, "sqlite config is nil")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	path := cfg.Path
	return newGormConnector("sqlite", cfg.Name, cfg.PoolConfig, func() gorm.Dialector {
		return sqlite.Open(path)
	}, applyOptions(opts)), nil
}
