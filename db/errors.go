package db

import "github.com/ceyewan/fieldops/xerrors"

var (
	// ErrInvalidConfig 配置无效
	ErrInvalidConfig = xerrors.New("db: invalid config")

	// ErrConnectorRequired 未提供连接器，或连接器尚未 Connect
	ErrConnectorRequired = xerrors.New("db: connected connector is required")
)
