package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ceyewan/fieldops/clog"
)

type bucket struct {
	mu       sync.Mutex
	limiter  *rate.Limiter
	lastSeen time.Time
}

type standaloneLimiter struct {
	cfg     *Config
	logger  clog.Logger
	metrics *limiterMetrics

	buckets   sync.Map // map[string]*bucket
	stopCh    chan struct{}
	closeOnce sync.Once
}

func newStandalone(cfg *Config, logger clog.Logger, m *limiterMetrics) *standaloneLimiter {
	l := &standaloneLimiter{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		stopCh:  make(chan struct{}),
	}
	go l.cleanup()

	logger.Info("standalone rate limiter created",
		clog.Duration("cleanup_interval", cfg.CleanupInterval),
		clog.Duration("idle_timeout", cfg.IdleTimeout))
	return l
}

func (l *standaloneLimiter) Allow(ctx context.Context, key string, limit Limit) (bool, error) {
	return l.AllowN(ctx, key, limit, 1)
}

func (l *standaloneLimiter) AllowN(ctx context.Context, key string, limit Limit, n int) (bool, error) {
	if key == "" {
		return false, ErrKeyEmpty
	}
	if !limit.valid() || n <= 0 {
		return false, ErrInvalidLimit
	}

	b := l.bucket(key, limit)
	now := time.Now()
	b.mu.Lock()
	allowed := b.limiter.AllowN(now, n)
	b.lastSeen = now
	b.mu.Unlock()

	l.metrics.observe(ctx, allowed, nil)
	if !allowed {
		l.logger.DebugContext(ctx, "rate limited", clog.String("key", key), clog.Float64("rate", limit.Rate))
	}
	return allowed, nil
}

// bucket 同一个键在不同参数下使用不同的桶
func (l *standaloneLimiter) bucket(key string, limit Limit) *bucket {
	id := fmt.Sprintf("%s|%g|%d", key, limit.Rate, limit.Burst)
	if v, ok := l.buckets.Load(id); ok {
		return v.(*bucket)
	}
	b := &bucket{
		limiter:  rate.NewLimiter(rate.Limit(limit.Rate), limit.Burst),
		lastSeen: time.Now(),
	}
	actual, _ := l.buckets.LoadOrStore(id, b)
	return actual.(*bucket)
}

func (l *standaloneLimiter) cleanup() {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.evictIdle(time.Now())
		case <-l.stopCh:
			return
		}
	}
}

func (l *standaloneLimiter) evictIdle(now time.Time) int {
	evicted := 0
	l.buckets.Range(func(id, value any) bool {
		b := value.(*bucket)
		b.mu.Lock()
		idle := now.Sub(b.lastSeen)
		b.mu.Unlock()
		if idle > l.cfg.IdleTimeout {
			l.buckets.Delete(id)
			evicted++
		}
		return true
	})
	if evicted > 0 {
		l.logger.Debug("evicted idle buckets", clog.Int("count", evicted))
	}
	return evicted
}

func (l *standaloneLimiter) Close() error {
	l.closeOnce.Do(func() { close(l.stopCh) })
	return nil
}
