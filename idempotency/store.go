package idempotency

import (
	"context"
	"time"
)

// ========================================
// 存储接口 (Store Interface)
// ========================================

// Store 幂等记录存储。
//
// 并发仲裁完全依赖 Insert 的原子 insert-if-absent：竞争失败的一方拿到
// (false, nil) 而不是错误。所有条件更新都以 (key, scope) 与 status = processing
// 为前提，Complete、Reclaim、Extend 还要求持有者凭证一致，命中返回 true，未命中返回 false。
// 记录一旦写入不会被删除。
type Store interface {
	// Get 读取记录，不存在时返回 (nil, nil)
	Get(ctx context.Context, key, scope string) (*Record, error)

	// Insert 原子插入 processing 记录，已存在时返回 (false, nil)
	Insert(ctx context.Context, rec *Record) (bool, error)

	// Complete 写入最终响应并标记 completed，要求 fingerprint 与 token 都匹配
	Complete(ctx context.Context, key, scope, fingerprint, token string, status int, body []byte, contentType string) (bool, error)

	// Reclaim 仅当凭证与到期时间都仍等于 prev 时换成 next，next.ExpiresAt 为零值表示清除租约
	Reclaim(ctx context.Context, key, scope, fingerprint string, prev, next Lease) (bool, error)

	// Extend 持有者把到期时间改为 lease.ExpiresAt，处理期间由心跳调用，也用于主动释放
	Extend(ctx context.Context, key, scope, fingerprint string, lease Lease) (bool, error)

	// Unstick 运维接口，不校验持有者：把处理中记录的租约设为 lease（通常为当前时间），
	// 下一次重试即可接管
	Unstick(ctx context.Context, key, scope string, lease time.Time) (bool, error)
}
