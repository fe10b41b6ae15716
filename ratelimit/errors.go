package ratelimit

import "github.com/ceyewan/fieldops/xerrors"

var (
	ErrConfigNil    = xerrors.New("ratelimit: config is nil")
	ErrConnectorNil = xerrors.New("ratelimit: redis connector is nil")
	ErrKeyEmpty     = xerrors.New("ratelimit: key is empty")
	ErrInvalidLimit = xerrors.New("ratelimit: invalid limit")
)
