package config

import "github.com/ceyewan/fieldops/xerrors"

// ErrValidationFailed 配置验证失败
var ErrValidationFailed = xerrors.New("config: validation failed")

// IsValidationError 判断错误是否为验证失败
func IsValidationError(err error) bool {
	return xerrors.Is(err, ErrValidationFailed)
}
