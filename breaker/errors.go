package breaker

import "github.com/ceyewan/fieldops/xerrors"

var (
	ErrConfigNil     = xerrors.New("breaker: config is nil")
	ErrInvalidConfig = xerrors.New("breaker: failure_ratio must be within [0, 1]")
	ErrKeyEmpty      = xerrors.New("breaker: key is empty")
	ErrOpenState     = xerrors.New("breaker: circuit breaker is open")
)
