package idempotency

import "github.com/ceyewan/fieldops/xerrors"

// 面向客户端的稳定错误码，HTTP 响应体与 gRPC ErrorInfo.Reason 使用同一套
const (
	CodeKeyConflict       = "IDEMPOTENCY_KEY_CONFLICT"
	CodeRequestInProgress = "IDEMPOTENCY_REQUEST_IN_PROGRESS"
	CodeStoreUnavailable  = "IDEMPOTENCY_STORE_UNAVAILABLE"
	CodePayloadTooLarge   = "PAYLOAD_TOO_LARGE"
	CodeInvalidBody       = "INVALID_REQUEST_BODY"
)

var (
	ErrConfigNil      = xerrors.New("idempotency: config is nil")
	ErrKeyEmpty       = xerrors.New("idempotency: key is empty")
	ErrStoreRequired  = xerrors.New("idempotency: store backend is required for the configured driver")
	ErrUnknownDriver  = xerrors.New("idempotency: unsupported driver")
	ErrUnknownPolicy  = xerrors.New("idempotency: unsupported failure policy")
	ErrInvalidTimings = xerrors.New("idempotency: lease_refresh_interval must be shorter than processing_ttl")

	// ErrKeyConflict 同一个键携带了不同的请求内容，调用方不应重试
	ErrKeyConflict = xerrors.WithCode(xerrors.New("idempotency: key reused with a different request"), CodeKeyConflict)

	// ErrRequestInProgress 相同请求仍在处理中，调用方应退避后重试
	ErrRequestInProgress = xerrors.WithCode(xerrors.New("idempotency: request already in progress"), CodeRequestInProgress)

	// ErrStoreUnavailable 存储不可用且策略为 closed
	ErrStoreUnavailable = xerrors.WithCode(xerrors.New("idempotency: store unavailable"), CodeStoreUnavailable)

	// ErrCompletionMismatch 完成写入没有命中处理中的记录（不存在、指纹不同或已完成）
	ErrCompletionMismatch = xerrors.New("idempotency: no processing record matched the completion")

	ErrPayloadTooLarge = xerrors.WithCode(xerrors.New("idempotency: request body exceeds limit"), CodePayloadTooLarge)
)
