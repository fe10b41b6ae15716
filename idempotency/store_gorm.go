package idempotency

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ceyewan/fieldops/db"
	"github.com/ceyewan/fieldops/xerrors"
)

// gormStore 关系型数据库存储，唯一索引 uk_idempotency_key_scope 是并发仲裁者
type gormStore struct {
	database db.DB
}

// NewGormStore 基于 db 组件创建存储，支持 MySQL、PostgreSQL 与 SQLite。
// 表结构由 AutoMigrate 创建。
func NewGormStore(database db.DB) Store {
	return &gormStore{database: database}
}

// AutoMigrate 创建或更新 idempotency_records 表
func AutoMigrate(ctx context.Context, database db.DB) error {
	if err := database.DB(ctx).AutoMigrate(&Record{}); err != nil {
		return xerrors.Wrap(err, "idempotency: migrate idempotency_records")
	}
	return nil
}

func (s *gormStore) Get(ctx context.Context, key, scope string) (*Record, error) {
	var rec Record
	err := s.database.DB(ctx).
		Where("idempotency_key = ? AND scope = ?", key, scope).
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, xerrors.Wrap(err, "idempotency: get record")
	}
	return &rec, nil
}

func (s *gormStore) Insert(ctx context.Context, rec *Record) (bool, error) {
	dup := rec.clone()
	dup.LeaseExpiresAt = utcPtr(dup.LeaseExpiresAt)

	// 冲突时 DO NOTHING，RowsAffected 为 0 即竞争失败
	res := s.database.DB(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(dup)
	if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
		return false, nil
	}
	if res.Error != nil {
		return false, xerrors.Wrap(res.Error, "idempotency: insert record")
	}
	return res.RowsAffected == 1, nil
}

func (s *gormStore) Complete(ctx context.Context, key, scope, fingerprint, token string, status int, body []byte, contentType string) (bool, error) {
	if body == nil {
		body = []byte{}
	}
	return s.update(ctx, "complete",
		s.held(ctx, key, scope, fingerprint, token),
		map[string]any{
			"status":                StatusCompleted,
			"response_status":       status,
			"response_body":         body,
			"response_content_type": contentType,
			"lease_token":           "",
			"lease_expires_at":      nil,
		})
}

func (s *gormStore) Reclaim(ctx context.Context, key, scope, fingerprint string, prev, next Lease) (bool, error) {
	return s.update(ctx, "reclaim",
		s.held(ctx, key, scope, fingerprint, prev.Token).
			Where("lease_expires_at = ?", prev.ExpiresAt.UTC()),
		map[string]any{
			"lease_token":      next.Token,
			"lease_expires_at": leaseValue(next.ExpiresAt),
		})
}

func (s *gormStore) Extend(ctx context.Context, key, scope, fingerprint string, lease Lease) (bool, error) {
	return s.update(ctx, "extend",
		s.held(ctx, key, scope, fingerprint, lease.Token),
		map[string]any{"lease_expires_at": leaseValue(lease.ExpiresAt)})
}

func (s *gormStore) Unstick(ctx context.Context, key, scope string, lease time.Time) (bool, error) {
	return s.update(ctx, "unstick",
		s.processing(ctx, key, scope),
		map[string]any{"lease_expires_at": leaseValue(lease)})
}

func (s *gormStore) processing(ctx context.Context, key, scope string) *gorm.DB {
	return s.database.DB(ctx).Model(&Record{}).
		Where("idempotency_key = ? AND scope = ? AND status = ?", key, scope, StatusProcessing)
}

// held 限定为指定持有者仍持有的处理中记录
func (s *gormStore) held(ctx context.Context, key, scope, fingerprint, token string) *gorm.DB {
	return s.processing(ctx, key, scope).
		Where("request_fingerprint = ? AND lease_token = ?", fingerprint, token)
}

// update 条件更新，updated_at 由 GORM 自动刷新，保证命中的行一定有变化
func (s *gormStore) update(_ context.Context, op string, tx *gorm.DB, values map[string]any) (bool, error) {
	res := tx.Updates(values)
	if res.Error != nil {
		return false, xerrors.Wrapf(res.Error, "idempotency: %s record", op)
	}
	return res.RowsAffected == 1, nil
}

// leaseValue 统一以 UTC 写入，SQLite 按文本比较时才能与读回的值相等
func leaseValue(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
