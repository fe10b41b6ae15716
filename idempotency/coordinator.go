package idempotency

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ceyewan/fieldops/clog"
	"github.com/ceyewan/fieldops/metrics"
	"github.com/ceyewan/fieldops/xerrors"
)

// completeTimeout 写回结果不受请求取消影响，但有独立上限
const completeTimeout = 5 * time.Second

type coordinator struct {
	cfg    *Config
	store  Store
	logger clog.Logger
	tracer trace.Tracer
	inst   *instruments
	now    func() time.Time
}

// storeError 记录失败的存储操作，用于 op 标签
type storeError struct {
	op  string
	err error
}

func (e *storeError) Error() string { return e.op + ": " + e.err.Error() }
func (e *storeError) Unwrap() error { return e.err }

// ========================================
// Begin
// ========================================

func (c *coordinator) Begin(ctx context.Context, key, scope, fingerprint string) (*Decision, error) {
	if key == "" {
		c.inst.decisions.Inc(ctx, metrics.L(LabelOutcome, outcomeBypass))
		return &Decision{Outcome: OutcomeProceed}, nil
	}

	ctx, span := c.tracer.Start(ctx, "idempotency.begin", trace.WithAttributes(
		attribute.String("idempotency.scope", scope)))
	defer span.End()

	start := time.Now()
	d, err := c.begin(ctx, key, scope, fingerprint)
	c.inst.beginDuration.Record(ctx, time.Since(start).Seconds())

	if err != nil {
		return c.storeFailure(ctx, span, key, scope, fingerprint, err)
	}

	span.SetAttributes(attribute.String("idempotency.outcome", d.Outcome.String()),
		attribute.Bool("idempotency.reclaimed", d.Reclaimed))
	c.inst.decisions.Inc(ctx, metrics.L(LabelOutcome, d.Outcome.String()))
	c.logger.DebugContext(ctx, "idempotency decision",
		clog.String("key", key),
		clog.String("scope", scope),
		clog.String("outcome", d.Outcome.String()),
		clog.Bool("reclaimed", d.Reclaimed))
	return d, nil
}

func (c *coordinator) begin(ctx context.Context, key, scope, fingerprint string) (*Decision, error) {
	rec, err := c.store.Get(ctx, key, scope)
	if err != nil {
		return nil, &storeError{op: "get", err: err}
	}

	if rec == nil {
		lease := c.newLease()
		inserted, err := c.store.Insert(ctx, &Record{
			Key:            key,
			Scope:          scope,
			Fingerprint:    fingerprint,
			Status:         StatusProcessing,
			LeaseToken:     lease.Token,
			LeaseExpiresAt: leasePtr(lease.ExpiresAt),
		})
		if err != nil {
			return nil, &storeError{op: "insert", err: err}
		}
		if inserted {
			d := c.decision(OutcomeProceed, key, scope, fingerprint, true)
			d.Token = lease.Token
			return d, nil
		}

		// 插入失败说明有并发请求抢先，重新读取后按已存在处理
		if rec, err = c.store.Get(ctx, key, scope); err != nil {
			return nil, &storeError{op: "get", err: err}
		}
		if rec == nil {
			return c.decision(OutcomeInProgress, key, scope, fingerprint, false), nil
		}
	}

	return c.decide(ctx, rec, fingerprint)
}

func (c *coordinator) decide(ctx context.Context, rec *Record, fingerprint string) (*Decision, error) {
	if rec.Fingerprint != fingerprint {
		return c.decision(OutcomeConflict, rec.Key, rec.Scope, fingerprint, false), nil
	}

	if rec.Status == StatusCompleted {
		d := c.decision(OutcomeReplay, rec.Key, rec.Scope, fingerprint, false)
		d.Status = rec.ResponseStatus
		d.Body = rec.ResponseBody
		d.ContentType = rec.ResponseContentType
		return d, nil
	}

	if !rec.leaseExpired(c.now()) {
		return c.decision(OutcomeInProgress, rec.Key, rec.Scope, fingerprint, false), nil
	}

	// 租约过期：比较并交换凭证与租约，只有一个重试者能接管，
	// 原持有者的凭证随之失效
	lease := c.newLease()
	ok, err := c.store.Reclaim(ctx, rec.Key, rec.Scope, fingerprint, rec.lease(), lease)
	if err != nil {
		return nil, &storeError{op: "reclaim", err: err}
	}
	if !ok {
		return c.decision(OutcomeInProgress, rec.Key, rec.Scope, fingerprint, false), nil
	}

	c.inst.reclaims.Inc(ctx)
	c.logger.WarnContext(ctx, "reclaimed expired processing record",
		clog.String("key", rec.Key),
		clog.String("scope", rec.Scope),
		clog.Time("lease_expired_at", *rec.LeaseExpiresAt))

	d := c.decision(OutcomeProceed, rec.Key, rec.Scope, fingerprint, true)
	d.Token = lease.Token
	d.Reclaimed = true
	return d, nil
}

func (c *coordinator) decision(outcome Outcome, key, scope, fingerprint string, tracked bool) *Decision {
	d := &Decision{
		Outcome:     outcome,
		Key:         key,
		Scope:       scope,
		Fingerprint: fingerprint,
		Tracked:     tracked,
	}
	if outcome == OutcomeInProgress {
		d.RetryAfter = c.cfg.RetryAfter
	}
	return d
}

// storeFailure 按故障策略处理存储错误
func (c *coordinator) storeFailure(ctx context.Context, span trace.Span, key, scope, fingerprint string, err error) (*Decision, error) {
	op := "begin"
	var se *storeError
	if errors.As(err, &se) {
		op = se.op
	}

	c.inst.storeErrors.Inc(ctx, metrics.L(LabelOp, op))
	span.RecordError(err)
	span.SetStatus(codes.Error, "idempotency store unavailable")
	c.logger.ErrorContext(ctx, "idempotency store failure",
		clog.String("key", key),
		clog.String("scope", scope),
		clog.String("op", op),
		clog.String("policy", string(c.cfg.FailurePolicy)),
		clog.Error(err))

	if c.cfg.FailurePolicy == FailClosed {
		c.inst.decisions.Inc(ctx, metrics.L(LabelOutcome, outcomeUnavailable))
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	c.inst.decisions.Inc(ctx, metrics.L(LabelOutcome, outcomeUntracked))
	return &Decision{Outcome: OutcomeProceed, Key: key, Scope: scope, Fingerprint: fingerprint}, nil
}

// newLease 生成新的持有者凭证，未启用租约时到期时间为零值
func (c *coordinator) newLease() Lease {
	return Lease{Token: uuid.NewString(), ExpiresAt: c.leaseDeadline()}
}

// leaseDeadline 截断到毫秒，保证经数据库往返后仍能精确比较
func (c *coordinator) leaseDeadline() time.Time {
	if c.cfg.ProcessingTTL <= 0 {
		return time.Time{}
	}
	return c.now().Add(c.cfg.ProcessingTTL).UTC().Truncate(time.Millisecond)
}

// ========================================
// Complete / KeepAlive
// ========================================

func (c *coordinator) Complete(ctx context.Context, d *Decision, status int, body []byte, contentType string) error {
	if d == nil || !d.Tracked {
		return nil
	}
	key, scope := d.Key, d.Scope

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), completeTimeout)
	defer cancel()
	ctx, span := c.tracer.Start(ctx, "idempotency.complete", trace.WithAttributes(
		attribute.String("idempotency.scope", scope),
		attribute.Int("idempotency.response_status", status)))
	defer span.End()

	ok, err := c.store.Complete(ctx, key, scope, d.Fingerprint, d.Token, status, body, contentType)
	if err != nil {
		c.inst.storeErrors.Inc(ctx, metrics.L(LabelOp, "complete"))
		c.inst.completions.Inc(ctx, metrics.L(LabelResult, "error"))
		span.RecordError(err)
		span.SetStatus(codes.Error, "complete failed")
		c.logger.ErrorContext(ctx, "failed to record idempotent response",
			clog.String("key", key), clog.String("scope", scope), clog.Error(err))
		return xerrors.Wrap(err, "idempotency: complete")
	}
	if !ok {
		c.inst.completions.Inc(ctx, metrics.L(LabelResult, "mismatch"))
		c.logger.WarnContext(ctx, "completion matched no processing record",
			clog.String("key", key), clog.String("scope", scope))
		return ErrCompletionMismatch
	}

	c.inst.completions.Inc(ctx, metrics.L(LabelResult, "ok"))
	return nil
}

func (c *coordinator) KeepAlive(ctx context.Context, d *Decision) func() {
	if d == nil || !d.Tracked || c.cfg.ProcessingTTL <= 0 {
		return func() {}
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(c.cfg.LeaseRefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ok, err := c.store.Extend(ctx, d.Key, d.Scope, d.Fingerprint,
					Lease{Token: d.Token, ExpiresAt: c.leaseDeadline()})
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					c.inst.storeErrors.Inc(ctx, metrics.L(LabelOp, "extend"))
					c.logger.WarnContext(ctx, "failed to extend processing lease",
						clog.String("key", d.Key), clog.Error(err))
					continue
				}
				if !ok {
					c.logger.WarnContext(ctx, "processing lease lost",
						clog.String("key", d.Key), clog.String("scope", d.Scope))
					return
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}

// ========================================
// Execute / Release / Unstick
// ========================================

func (c *coordinator) Execute(ctx context.Context, req Request, fn func(ctx context.Context) (*Response, error)) (*Response, error) {
	d, err := c.Begin(ctx, req.Key, req.Scope, req.Fingerprint)
	if err != nil {
		return nil, err
	}

	switch d.Outcome {
	case OutcomeConflict:
		return nil, ErrKeyConflict
	case OutcomeInProgress:
		return nil, ErrRequestInProgress
	case OutcomeReplay:
		return &Response{Status: d.Status, Body: d.Body, ContentType: d.ContentType, Replayed: true}, nil
	}

	rec := NewRecorder(c, d)
	defer rec.Stop()

	resp, err := fn(ctx)
	if resp == nil {
		// 没有可回放的响应：释放记录，让下一次重试重新执行
		rec.Release(ctx)
		return nil, err
	}
	rec.Record(ctx, resp.Status, resp.Body, resp.ContentType)
	return resp, err
}

// Release 以持有者身份把租约置为立即过期，已被接管时不影响新持有者
func (c *coordinator) Release(ctx context.Context, d *Decision) {
	if d == nil || !d.Tracked {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), completeTimeout)
	defer cancel()

	ok, err := c.store.Extend(ctx, d.Key, d.Scope, d.Fingerprint,
		Lease{Token: d.Token, ExpiresAt: c.expiredLease()})
	if err != nil {
		c.inst.storeErrors.Inc(ctx, metrics.L(LabelOp, "release"))
		c.logger.WarnContext(ctx, "failed to release processing record",
			clog.String("key", d.Key), clog.Error(err))
		return
	}
	c.logger.DebugContext(ctx, "released processing record",
		clog.String("key", d.Key), clog.String("scope", d.Scope), clog.Bool("released", ok))
}

func (c *coordinator) expiredLease() time.Time {
	return c.now().UTC().Truncate(time.Millisecond)
}

func (c *coordinator) Unstick(ctx context.Context, key, scope string) (bool, error) {
	if key == "" {
		return false, ErrKeyEmpty
	}
	ok, err := c.store.Unstick(ctx, key, scope, c.expiredLease())
	if err != nil {
		c.inst.storeErrors.Inc(ctx, metrics.L(LabelOp, "unstick"))
		return false, xerrors.Wrap(err, "idempotency: unstick")
	}
	c.logger.InfoContext(ctx, "unstick processing record",
		clog.String("key", key), clog.String("scope", scope), clog.Bool("released", ok))
	return ok, nil
}

func (c *coordinator) Close() error {
	if closer, ok := c.store.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}
