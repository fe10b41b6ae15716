package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
)

// ResolveScope 计算幂等键的隔离分区。
// 已认证调用方为 "user:<identity>"；匿名调用方按 IP 与 User-Agent 的哈希分区，
// 避免原始 IP/UA 进入存储。
func ResolveScope(identity, clientIP, userAgent string) string {
	if identity != "" {
		return "user:" + identity
	}
	sum := sha256.Sum256([]byte(clientIP + "|" + userAgent))
	return "ip:" + hex.EncodeToString(sum[:])
}
