package idempotency

import "time"

// Status 幂等记录生命周期，只允许 processing → completed
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
)

// Record 一次幂等请求的持久化记录，(Key, Scope) 唯一
type Record struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement"`
	Key         string `gorm:"column:idempotency_key;size:255;not null;uniqueIndex:uk_idempotency_key_scope,priority:1"`
	Scope       string `gorm:"column:scope;size:255;not null;uniqueIndex:uk_idempotency_key_scope,priority:2"`
	Fingerprint string `gorm:"column:request_fingerprint;size:64;not null"`
	Status      Status `gorm:"column:status;size:16;not null"`

	// 以下字段仅在 completed 后有值
	ResponseStatus      int    `gorm:"column:response_status"`
	ResponseBody        []byte `gorm:"column:response_body"`
	ResponseContentType string `gorm:"column:response_content_type;size:255"`

	// LeaseToken 当前持有者的凭证，插入与接管时重新生成，
	// Complete 与续租都必须携带它，被接管的旧持有者因此无法再写入
	LeaseToken string `gorm:"column:lease_token;size:36;not null;default:''"`
	// LeaseExpiresAt 处理中记录的租约，nil 表示不过期
	LeaseExpiresAt *time.Time `gorm:"column:lease_expires_at"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName 固定表名
func (Record) TableName() string {
	return "idempotency_records"
}

func (r *Record) clone() *Record {
	if r == nil {
		return nil
	}
	dup := *r
	dup.ResponseBody = append([]byte(nil), r.ResponseBody...)
	if r.LeaseExpiresAt != nil {
		lease := *r.LeaseExpiresAt
		dup.LeaseExpiresAt = &lease
	}
	return &dup
}

// Lease 处理中记录的持有凭证，ExpiresAt 为零值表示不过期
type Lease struct {
	Token     string
	ExpiresAt time.Time
}

func (r *Record) lease() Lease {
	l := Lease{Token: r.LeaseToken}
	if r.LeaseExpiresAt != nil {
		l.ExpiresAt = *r.LeaseExpiresAt
	}
	return l
}

// leaseExpired 租约存在且不晚于 now
func (r *Record) leaseExpired(now time.Time) bool {
	return r.LeaseExpiresAt != nil && !r.LeaseExpiresAt.After(now)
}
