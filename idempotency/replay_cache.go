package idempotency

import (
	"context"

	"github.com/maypok86/otter/v2"

	"github.com/ceyewan/fieldops/xerrors"
)

// cachedStore 在 Get 前缓存已完成的记录。
// completed 记录不可变，缓存永远不会过期失效；processing 记录从不进缓存。
type cachedStore struct {
	Store
	cache *otter.Cache[memoryKey, *Record]
}

// NewCachedStore 用容量为 capacity 的本地缓存包装存储
func NewCachedStore(next Store, capacity int) (Store, error) {
	cache, err := otter.New(&otter.Options[memoryKey, *Record]{
		MaximumSize: capacity,
	})
	if err != nil {
		return nil, xerrors.Wrap(err, "idempotency: build replay cache")
	}
	return &cachedStore{Store: next, cache: cache}, nil
}

func (cs *cachedStore) Get(ctx context.Context, key, scope string) (*Record, error) {
	k := memoryKey{key, scope}
	if rec, ok := cs.cache.GetIfPresent(k); ok {
		return rec.clone(), nil
	}

	rec, err := cs.Store.Get(ctx, key, scope)
	if err != nil || rec == nil {
		return rec, err
	}
	if rec.Status == StatusCompleted {
		cs.cache.Set(k, rec.clone())
	}
	return rec, nil
}

// Close 停止缓存的后台协程
func (cs *cachedStore) Close() error {
	cs.cache.StopAllGoroutines()
	return nil
}
