package idempotency

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ceyewan/fieldops/connector"
	"github.com/ceyewan/fieldops/xerrors"
)

// 每条记录是一个哈希，租约与时间戳以毫秒时间戳存储，空串表示无租约，
// token 字段是当前持有者的凭证。所有写操作都在 Lua 中完成判断与修改，
// EXISTS 守卫的插入脚本是并发仲裁者。
var (
	insertScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1],
	'key', ARGV[1], 'scope', ARGV[2], 'fingerprint', ARGV[3], 'status', 'processing',
	'token', ARGV[4], 'lease', ARGV[5], 'created_at', ARGV[6], 'updated_at', ARGV[6])
return 1
`)

	completeScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'status') ~= 'processing' then
	return 0
end
if redis.call('HGET', KEYS[1], 'fingerprint') ~= ARGV[1] then
	return 0
end
if redis.call('HGET', KEYS[1], 'token') ~= ARGV[2] then
	return 0
end
redis.call('HSET', KEYS[1],
	'status', 'completed', 'response_status', ARGV[3], 'response_body', ARGV[4],
	'content_type', ARGV[5], 'token', '', 'lease', '', 'updated_at', ARGV[6])
return 1
`)

	// ARGV[1] 为空串时不校验指纹，ARGV[2]、ARGV[3] 为 '*' 时不校验原凭证与原租约，
	// ARGV[4] 为空串时保留原凭证
	leaseScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'status') ~= 'processing' then
	return 0
end
if ARGV[1] ~= '' and redis.call('HGET', KEYS[1], 'fingerprint') ~= ARGV[1] then
	return 0
end
if ARGV[2] ~= '*' and redis.call('HGET', KEYS[1], 'token') ~= ARGV[2] then
	return 0
end
if ARGV[3] ~= '*' and redis.call('HGET', KEYS[1], 'lease') ~= ARGV[3] then
	return 0
end
if ARGV[4] ~= '' then
	redis.call('HSET', KEYS[1], 'token', ARGV[4])
end
redis.call('HSET', KEYS[1], 'lease', ARGV[5], 'updated_at', ARGV[6])
return 1
`)
)

// anyValue 让租约脚本跳过对应字段的比较
const anyValue = "*"

type redisStore struct {
	conn   connector.RedisConnector
	prefix string
}

// NewRedisStore 创建 Redis 存储，键格式为 prefix + "{scope}:" + key，
// 花括号让同一 scope 的记录落在同一个集群槽
func NewRedisStore(conn connector.RedisConnector, prefix string) Store {
	return &redisStore{conn: conn, prefix: prefix}
}

func (rs *redisStore) redisKey(key, scope string) string {
	return rs.prefix + "{" + scope + "}:" + key
}

func (rs *redisStore) client() (*redis.Client, error) {
	client := rs.conn.GetClient()
	if client == nil {
		return nil, connector.ErrClientNil
	}
	return client, nil
}

func (rs *redisStore) Get(ctx context.Context, key, scope string) (*Record, error) {
	client, err := rs.client()
	if err != nil {
		return nil, err
	}
	fields, err := client.HGetAll(ctx, rs.redisKey(key, scope)).Result()
	if err != nil {
		return nil, xerrors.Wrap(err, "idempotency: redis get record")
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return decodeRedisRecord(fields)
}

func (rs *redisStore) Insert(ctx context.Context, rec *Record) (bool, error) {
	lease := ""
	if rec.LeaseExpiresAt != nil {
		lease = formatMillis(*rec.LeaseExpiresAt)
	}
	return rs.run(ctx, insertScript, "insert", rec.Key, rec.Scope,
		rec.Key, rec.Scope, rec.Fingerprint, rec.LeaseToken, lease, formatMillis(time.Now()))
}

func (rs *redisStore) Complete(ctx context.Context, key, scope, fingerprint, token string, status int, body []byte, contentType string) (bool, error) {
	return rs.run(ctx, completeScript, "complete", key, scope,
		fingerprint, token, strconv.Itoa(status), body, contentType, formatMillis(time.Now()))
}

func (rs *redisStore) Reclaim(ctx context.Context, key, scope, fingerprint string, prev, next Lease) (bool, error) {
	return rs.run(ctx, leaseScript, "reclaim", key, scope,
		fingerprint, prev.Token, formatMillis(prev.ExpiresAt), next.Token,
		formatLease(next.ExpiresAt), formatMillis(time.Now()))
}

func (rs *redisStore) Extend(ctx context.Context, key, scope, fingerprint string, lease Lease) (bool, error) {
	return rs.run(ctx, leaseScript, "extend", key, scope,
		fingerprint, lease.Token, anyValue, "", formatLease(lease.ExpiresAt), formatMillis(time.Now()))
}

func (rs *redisStore) Unstick(ctx context.Context, key, scope string, lease time.Time) (bool, error) {
	return rs.run(ctx, leaseScript, "unstick", key, scope,
		"", anyValue, anyValue, "", formatLease(lease), formatMillis(time.Now()))
}

func (rs *redisStore) run(ctx context.Context, script *redis.Script, op, key, scope string, args ...any) (bool, error) {
	client, err := rs.client()
	if err != nil {
		return false, err
	}
	n, err := script.Run(ctx, client, []string{rs.redisKey(key, scope)}, args...).Int()
	if err != nil {
		return false, xerrors.Wrapf(err, "idempotency: redis %s record", op)
	}
	return n == 1, nil
}

func decodeRedisRecord(fields map[string]string) (*Record, error) {
	rec := &Record{
		Key:                 fields["key"],
		Scope:               fields["scope"],
		Fingerprint:         fields["fingerprint"],
		LeaseToken:          fields["token"],
		Status:              Status(fields["status"]),
		ResponseContentType: fields["content_type"],
	}
	if body, ok := fields["response_body"]; ok {
		rec.ResponseBody = []byte(body)
	}
	if s := fields["response_status"]; s != "" {
		status, err := strconv.Atoi(s)
		if err != nil {
			return nil, xerrors.Wrapf(err, "idempotency: corrupt response_status %q", s)
		}
		rec.ResponseStatus = status
	}

	var err error
	if rec.LeaseExpiresAt, err = parseMillisPtr(fields["lease"]); err != nil {
		return nil, err
	}
	if rec.CreatedAt, err = parseMillis(fields["created_at"]); err != nil {
		return nil, err
	}
	if rec.UpdatedAt, err = parseMillis(fields["updated_at"]); err != nil {
		return nil, err
	}
	return rec, nil
}

func formatMillis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func formatLease(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return formatMillis(t)
}

func parseMillis(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, xerrors.Wrapf(err, "idempotency: corrupt timestamp %q", s)
	}
	return time.UnixMilli(ms).UTC(), nil
}

func parseMillisPtr(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := parseMillis(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
