package idempotency

import (
	"net/http"
	"strings"

	"google.golang.org/grpc/metadata"
)

// DefaultHeaderNames 默认识别的幂等键请求头，按顺序取第一个非空值
var DefaultHeaderNames = []string{"Idempotency-Key", "X-Idempotency-Key", "X-Idem-Key"}

// KeyFromHeader 从 HTTP 请求头提取幂等键，没有时返回空串。
// 头名不区分大小写，键内容不做格式校验。
func KeyFromHeader(h http.Header) string {
	return keyFromHeader(h, DefaultHeaderNames)
}

// KeyFromMetadata 从 gRPC metadata 提取幂等键
func KeyFromMetadata(md metadata.MD) string {
	return keyFromMetadata(md, DefaultHeaderNames)
}

func keyFromHeader(h http.Header, names []string) string {
	for _, name := range names {
		if v := strings.TrimSpace(h.Get(name)); v != "" {
			return v
		}
	}
	return ""
}

func keyFromMetadata(md metadata.MD, names []string) string {
	for _, name := range names {
		// md.Get 内部会转为小写
		for _, v := range md.Get(name) {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return ""
}
