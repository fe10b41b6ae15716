package idempotency

import (
	"context"
	"sync"
	"time"
)

type memoryKey struct {
	key   string
	scope string
}

// memoryStore 进程内存储，仅单机有效
type memoryStore struct {
	mu      sync.Mutex
	records map[memoryKey]*Record
}

// NewMemoryStore 创建内存存储，用于开发与测试
func NewMemoryStore() Store {
	return &memoryStore{records: make(map[memoryKey]*Record)}
}

func (ms *memoryStore) Get(ctx context.Context, key, scope string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.records[memoryKey{key, scope}].clone(), nil
}

func (ms *memoryStore) Insert(ctx context.Context, rec *Record) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()

	k := memoryKey{rec.Key, rec.Scope}
	if _, ok := ms.records[k]; ok {
		return false, nil
	}
	dup := rec.clone()
	now := time.Now()
	dup.CreatedAt, dup.UpdatedAt = now, now
	ms.records[k] = dup
	return true, nil
}

func (ms *memoryStore) Complete(ctx context.Context, key, scope, fingerprint, token string, status int, body []byte, contentType string) (bool, error) {
	return ms.update(ctx, key, scope, func(r *Record) bool {
		if r.Fingerprint != fingerprint || r.LeaseToken != token {
			return false
		}
		r.Status = StatusCompleted
		r.ResponseStatus = status
		r.ResponseBody = append([]byte(nil), body...)
		r.ResponseContentType = contentType
		r.LeaseToken = ""
		r.LeaseExpiresAt = nil
		return true
	})
}

func (ms *memoryStore) Reclaim(ctx context.Context, key, scope, fingerprint string, prev, next Lease) (bool, error) {
	return ms.update(ctx, key, scope, func(r *Record) bool {
		if r.Fingerprint != fingerprint || r.LeaseToken != prev.Token {
			return false
		}
		if r.LeaseExpiresAt == nil || !r.LeaseExpiresAt.Equal(prev.ExpiresAt) {
			return false
		}
		r.LeaseToken = next.Token
		r.LeaseExpiresAt = leasePtr(next.ExpiresAt)
		return true
	})
}

func (ms *memoryStore) Extend(ctx context.Context, key, scope, fingerprint string, lease Lease) (bool, error) {
	return ms.update(ctx, key, scope, func(r *Record) bool {
		if r.Fingerprint != fingerprint || r.LeaseToken != lease.Token {
			return false
		}
		r.LeaseExpiresAt = leasePtr(lease.ExpiresAt)
		return true
	})
}

func (ms *memoryStore) Unstick(ctx context.Context, key, scope string, lease time.Time) (bool, error) {
	return ms.update(ctx, key, scope, func(r *Record) bool {
		r.LeaseExpiresAt = leasePtr(lease)
		return true
	})
}

// update 对处理中的记录执行 fn，fn 返回 false 表示条件不满足
func (ms *memoryStore) update(ctx context.Context, key, scope string, fn func(r *Record) bool) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()

	r, ok := ms.records[memoryKey{key, scope}]
	if !ok || r.Status != StatusProcessing {
		return false, nil
	}
	if !fn(r) {
		return false, nil
	}
	r.UpdatedAt = time.Now()
	return true, nil
}

func leasePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
