package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ceyewan/fieldops/clog"
	"github.com/ceyewan/fieldops/connector"
	"github.com/ceyewan/fieldops/xerrors"
)

// tokenBucketScript 以“下一次可放行时间”表示桶状态，单个键即可完成判定。
//
// KEYS[1] 桶键；ARGV: rate, burst, now(秒，含小数), n
// 返回 {allowed, remaining}
var tokenBucketScript = redis.NewScript(`
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local n = tonumber(ARGV[4])

local interval = 1 / rate
local fill_time = burst * interval

local tat = tonumber(redis.call("GET", KEYS[1]))
if tat == nil or tat < now then
  tat = now
end

local new_tat = tat + n * interval
local limit_at = now + fill_time

if new_tat <= limit_at then
  redis.call("SET", KEYS[1], new_tat, "EX", math.ceil(fill_time * 2))
  return {1, math.floor((limit_at - new_tat) / interval)}
end
return {0, math.floor((limit_at - tat) / interval)}
`)

type distributedLimiter struct {
	client  *redis.Client
	prefix  string
	logger  clog.Logger
	metrics *limiterMetrics
}

func newDistributed(cfg *Config, conn connector.RedisConnector, logger clog.Logger, m *limiterMetrics) (*distributedLimiter, error) {
	if conn == nil {
		return nil, ErrConnectorNil
	}
	logger.Info("distributed rate limiter created", clog.String("prefix", cfg.Prefix))
	return &distributedLimiter{
		client:  conn.GetClient(),
		prefix:  cfg.Prefix,
		logger:  logger,
		metrics: m,
	}, nil
}

func (l *distributedLimiter) Allow(ctx context.Context, key string, limit Limit) (bool, error) {
	return l.AllowN(ctx, key, limit, 1)
}

func (l *distributedLimiter) AllowN(ctx context.Context, key string, limit Limit, n int) (bool, error) {
	if key == "" {
		return false, ErrKeyEmpty
	}
	if !limit.valid() || n <= 0 {
		return false, ErrInvalidLimit
	}

	now := float64(time.Now().UnixMicro()) / 1e6
	res, err := tokenBucketScript.Run(ctx, l.client, []string{l.prefix + key}, limit.Rate, limit.Burst, now, n).Int64Slice()
	if err != nil {
		l.metrics.observe(ctx, false, err)
		l.logger.ErrorContext(ctx, "token bucket script failed", clog.String("key", key), clog.Error(err))
		return false, xerrors.Wrap(err, "ratelimit: run token bucket script")
	}
	if len(res) != 2 {
		err := xerrors.Wrapf(xerrors.ErrUnavailable, "ratelimit: unexpected script result %v", res)
		l.metrics.observe(ctx, false, err)
		return false, err
	}

	allowed := res[0] == 1
	l.metrics.observe(ctx, allowed, nil)
	if !allowed {
		l.logger.DebugContext(ctx, "rate limited", clog.String("key", key), clog.Int64("remaining", res[1]))
	}
	return allowed, nil
}

func (l *distributedLimiter) Close() error {
	return nil
}
