package ratelimit

import (
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// CodeRateLimited 429 响应体中的错误码
const CodeRateLimited = "RATE_LIMITED"

// GinMiddleware 按 keyFunc 返回的键限流，keyFunc 为 nil 时使用客户端 IP。
//
// 超限返回 429 并带 Retry-After；限流器出错时放行，避免 Redis 故障拖垮写接口。
func GinMiddleware(limiter Limiter, limit Limit, keyFunc func(*gin.Context) string) gin.HandlerFunc {
	if keyFunc == nil {
		keyFunc = func(c *gin.Context) string { return c.ClientIP() }
	}
	retryAfter := strconv.Itoa(int(math.Ceil(limit.RetryAfter().Seconds())))

	return func(c *gin.Context) {
		allowed, err := limiter.Allow(c.Request.Context(), keyFunc(c), limit)
		if err != nil || allowed {
			c.Next()
			return
		}

		c.Header("Retry-After", retryAfter)
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": gin.H{"code": CodeRateLimited, "message": "rate limit exceeded"},
		})
	}
}
