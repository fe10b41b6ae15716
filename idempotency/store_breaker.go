package idempotency

import (
	"context"
	"time"

	"github.com/ceyewan/fieldops/breaker"
)

// BreakerKey 存储调用在熔断器中使用的键
const BreakerKey = "idempotency-store"

// breakerStore 所有存储调用共用一个熔断键，存储故障时快速失败，
// 由 Begin 按故障策略处理，避免每个写请求都等到超时
type breakerStore struct {
	next Store
	brk  breaker.Breaker
}

// NewBreakerStore 用熔断器包装存储
func NewBreakerStore(next Store, brk breaker.Breaker) Store {
	return &breakerStore{next: next, brk: brk}
}

func (bs *breakerStore) Get(ctx context.Context, key, scope string) (*Record, error) {
	v, err := bs.brk.Execute(ctx, BreakerKey, func() (any, error) {
		return bs.next.Get(ctx, key, scope)
	})
	if err != nil {
		return nil, err
	}
	rec, _ := v.(*Record)
	return rec, nil
}

func (bs *breakerStore) Insert(ctx context.Context, rec *Record) (bool, error) {
	return bs.cond(ctx, func() (bool, error) { return bs.next.Insert(ctx, rec) })
}

func (bs *breakerStore) Complete(ctx context.Context, key, scope, fingerprint, token string, status int, body []byte, contentType string) (bool, error) {
	return bs.cond(ctx, func() (bool, error) {
		return bs.next.Complete(ctx, key, scope, fingerprint, token, status, body, contentType)
	})
}

func (bs *breakerStore) Reclaim(ctx context.Context, key, scope, fingerprint string, prev, next Lease) (bool, error) {
	return bs.cond(ctx, func() (bool, error) {
		return bs.next.Reclaim(ctx, key, scope, fingerprint, prev, next)
	})
}

func (bs *breakerStore) Extend(ctx context.Context, key, scope, fingerprint string, lease Lease) (bool, error) {
	return bs.cond(ctx, func() (bool, error) { return bs.next.Extend(ctx, key, scope, fingerprint, lease) })
}

func (bs *breakerStore) Unstick(ctx context.Context, key, scope string, lease time.Time) (bool, error) {
	return bs.cond(ctx, func() (bool, error) { return bs.next.Unstick(ctx, key, scope, lease) })
}

func (bs *breakerStore) cond(ctx context.Context, fn func() (bool, error)) (bool, error) {
	v, err := bs.brk.Execute(ctx, BreakerKey, func() (any, error) { return fn() })
	if err != nil {
		return false, err
	}
	ok, _ := v.(bool)
	return ok, nil
}
