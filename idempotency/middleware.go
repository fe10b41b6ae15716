package idempotency

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ceyewan/fieldops/clog"
)

// HeaderReplayed 回放响应上附加的头
const HeaderReplayed = "X-Idempotency-Replayed"

// GinMiddleware 创建 Gin 幂等中间件。
//
// GET/HEAD/OPTIONS 与没有幂等键的请求直接放行。其余请求：
//   - 冲突返回 409 IDEMPOTENCY_KEY_CONFLICT
//   - 处理中返回 409 IDEMPOTENCY_REQUEST_IN_PROGRESS 并带 Retry-After
//   - 回放原样返回状态码、响应体与 Content-Type，并带 X-Idempotency-Replayed: true
//   - 首次执行时捕获 handler 的最终响应写回存储，错误响应同样记录
//
// 使用示例:
//
//	r := gin.New()
//	r.POST("/v1/invoices", idem.GinMiddleware(idempotency.WithIdentity(auth.Identity)), createInvoice)
func (c *coordinator) GinMiddleware(opts ...MiddlewareOption) gin.HandlerFunc {
	o := middlewareOptions{
		headerNames: DefaultHeaderNames,
		identity:    func(*gin.Context) string { return "" },
		fingerprint: HTTPFingerprint,
	}
	for _, opt := range opts {
		opt(&o)
	}

	return func(ctx *gin.Context) {
		if !isMutating(ctx.Request.Method) {
			ctx.Next()
			return
		}
		key := keyFromHeader(ctx.Request.Header, o.headerNames)
		if key == "" {
			ctx.Next()
			return
		}

		body, err := readBody(ctx, c.cfg.MaxBodyBytes)
		if err != nil {
			if errors.Is(err, ErrPayloadTooLarge) {
				abortError(ctx, http.StatusRequestEntityTooLarge, CodePayloadTooLarge, "Request body too large")
				return
			}
			abortError(ctx, http.StatusBadRequest, CodeInvalidBody, "Failed to read request body")
			return
		}

		route := ctx.FullPath()
		if route == "" {
			route = ctx.Request.URL.Path
		}
		fingerprint, err := o.fingerprint(ctx.Request.Method, route, body)
		if err != nil {
			c.logger.WarnContext(ctx.Request.Context(), "failed to fingerprint request", clog.Error(err))
			abortError(ctx, http.StatusBadRequest, CodeInvalidBody, "Invalid request body")
			return
		}
		scope := ResolveScope(o.identity(ctx), ctx.ClientIP(), ctx.Request.UserAgent())

		d, err := c.Begin(ctx.Request.Context(), key, scope, fingerprint)
		if err != nil {
			abortError(ctx, http.StatusServiceUnavailable, CodeStoreUnavailable, "Idempotency store unavailable")
			return
		}

		switch d.Outcome {
		case OutcomeConflict:
			abortError(ctx, http.StatusConflict, CodeKeyConflict, "Idempotency key conflict")
			return
		case OutcomeInProgress:
			ctx.Header("Retry-After", strconv.Itoa(retryAfterSeconds(d)))
			abortError(ctx, http.StatusConflict, CodeRequestInProgress, "Request already in progress")
			return
		case OutcomeReplay:
			writeReplay(ctx, d)
			return
		}

		if !d.Tracked {
			ctx.Next()
			return
		}

		rec := NewRecorder(c, d)
		defer rec.Stop()

		writer := &bodyWriter{ResponseWriter: ctx.Writer, body: &bytes.Buffer{}}
		ctx.Writer = writer
		ctx.Next()

		rec.Record(ctx.Request.Context(), writer.Status(), writer.body.Bytes(), writer.Header().Get("Content-Type"))
	}
}

// HTTPFingerprint 默认指纹：方法、路由模板与规范化请求体一起参与哈希，
// 同一个键换到另一个路由上也会被判为冲突。非 JSON 请求体按字符串参与。
func HTTPFingerprint(method, route string, body []byte) (string, error) {
	var payload any
	switch {
	case len(bytes.TrimSpace(body)) == 0:
		payload = nil
	case json.Valid(body):
		payload = json.RawMessage(body)
	default:
		payload = string(body)
	}
	return Fingerprint(map[string]any{
		"method": method,
		"route":  route,
		"body":   payload,
	})
}

func isMutating(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return false
	default:
		return true
	}
}

// readBody 读取并还原请求体，超过 limit 返回 ErrPayloadTooLarge
func readBody(ctx *gin.Context, limit int64) ([]byte, error) {
	if ctx.Request.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(ctx.Request.Body, limit+1))
	_ = ctx.Request.Body.Close()
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, ErrPayloadTooLarge
	}
	ctx.Request.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

func writeReplay(ctx *gin.Context, d *Decision) {
	ctx.Header(HeaderReplayed, "true")
	if d.ContentType != "" {
		ctx.Header("Content-Type", d.ContentType)
	}
	ctx.Status(d.Status)
	_, _ = ctx.Writer.Write(d.Body)
	ctx.Abort()
}

func retryAfterSeconds(d *Decision) int {
	secs := int(math.Ceil(d.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

func abortError(ctx *gin.Context, status int, code, message string) {
	ctx.AbortWithStatusJSON(status, gin.H{
		"error": gin.H{"code": code, "message": message},
	})
}

// bodyWriter 在写出响应的同时保留一份副本
type bodyWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *bodyWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *bodyWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}
