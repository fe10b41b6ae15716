package idempotency

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func newInvoiceRouter(t *testing.T, c *coordinator, executions *atomic.Int32, opts ...MiddlewareOption) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	opts = append([]MiddlewareOption{WithIdentity(func(c *gin.Context) string { return c.GetHeader("X-User") })}, opts...)
	r.Use(c.GinMiddleware(opts...))

	r.POST("/v1/invoices", func(ctx *gin.Context) {
		n := executions.Add(1)
		var req struct {
			Amount int `json:"amount"`
		}
		if err := ctx.ShouldBindJSON(&req); err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "bad request"})
			return
		}
		ctx.JSON(http.StatusCreated, gin.H{"id": "inv-" + string(rune('0'+n)), "amount": req.Amount})
	})
	r.POST("/v1/jobs", func(ctx *gin.Context) {
		executions.Add(1)
		ctx.Status(http.StatusAccepted)
	})
	r.POST("/v1/fail", func(ctx *gin.Context) {
		executions.Add(1)
		ctx.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid customer"})
	})
	r.GET("/v1/invoices", func(ctx *gin.Context) {
		executions.Add(1)
		ctx.JSON(http.StatusOK, gin.H{"items": []string{}})
	})
	return r
}

func doRequest(r http.Handler, method, path, key, user, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	if user != "" {
		req.Header.Set("X-User", user)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestGinMiddleware(t *testing.T) {
	c := newCoordinator(t, nil, WithStore(newSQLiteStore(t)))
	var executions atomic.Int32
	r := newInvoiceRouter(t, c, &executions)

	t.Run("first request executes", func(t *testing.T) {
		w := doRequest(r, http.MethodPost, "/v1/invoices", "abc-1", "42", `{"amount":10}`)
		assert.Equal(t, http.StatusCreated, w.Code)
		assert.Empty(t, w.Header().Get(HeaderReplayed))
		assert.Equal(t, int32(1), executions.Load())
	})

	t.Run("retry replays verbatim", func(t *testing.T) {
		w := doRequest(r, http.MethodPost, "/v1/invoices", "abc-1", "42", `{ "amount": 10.0 }`)
		assert.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, "true", w.Header().Get(HeaderReplayed))
		assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
		assert.JSONEq(t, `{"id":"inv-1","amount":10}`, w.Body.String())
		assert.Equal(t, int32(1), executions.Load())
	})

	t.Run("different payload conflicts", func(t *testing.T) {
		w := doRequest(r, http.MethodPost, "/v1/invoices", "abc-1", "42", `{"amount":20}`)
		assert.Equal(t, http.StatusConflict, w.Code)
		body := decodeError(t, w)
		assert.Equal(t, CodeKeyConflict, body.Error.Code)
		assert.Equal(t, "Idempotency key conflict", body.Error.Message)
		assert.Equal(t, int32(1), executions.Load())
	})

	t.Run("same key on another route conflicts", func(t *testing.T) {
		w := doRequest(r, http.MethodPost, "/v1/jobs", "abc-1", "42", `{"amount":10}`)
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, CodeKeyConflict, decodeError(t, w).Error.Code)
	})

	t.Run("other user is isolated", func(t *testing.T) {
		w := doRequest(r, http.MethodPost, "/v1/invoices", "abc-1", "43", `{"amount":10}`)
		assert.Equal(t, http.StatusCreated, w.Code)
		assert.Empty(t, w.Header().Get(HeaderReplayed))
		assert.Equal(t, int32(2), executions.Load())
	})

	t.Run("missing key bypasses", func(t *testing.T) {
		before := executions.Load()
		doRequest(r, http.MethodPost, "/v1/invoices", "", "42", `{"amount":10}`)
		doRequest(r, http.MethodPost, "/v1/invoices", "", "42", `{"amount":10}`)
		assert.Equal(t, before+2, executions.Load())
	})

	t.Run("reads are never deduplicated", func(t *testing.T) {
		before := executions.Load()
		doRequest(r, http.MethodGet, "/v1/invoices", "read-1", "42", "")
		w := doRequest(r, http.MethodGet, "/v1/invoices", "read-1", "42", "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, before+2, executions.Load())
	})

	t.Run("error responses are recorded", func(t *testing.T) {
		w := doRequest(r, http.MethodPost, "/v1/fail", "fail-1", "42", `{}`)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		before := executions.Load()

		w = doRequest(r, http.MethodPost, "/v1/fail", "fail-1", "42", `{}`)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Equal(t, "true", w.Header().Get(HeaderReplayed))
		assert.Equal(t, before, executions.Load())
	})

	t.Run("anonymous callers are scoped by client", func(t *testing.T) {
		w := doRequest(r, http.MethodPost, "/v1/invoices", "anon-1", "", `{"amount":5}`)
		assert.Equal(t, http.StatusCreated, w.Code)
		w = doRequest(r, http.MethodPost, "/v1/invoices", "anon-1", "", `{"amount":5}`)
		assert.Equal(t, "true", w.Header().Get(HeaderReplayed))
	})
}

func TestGinMiddlewareInProgress(t *testing.T) {
	c := newCoordinator(t, &Config{RetryAfter: 2 * time.Second}, WithStore(NewMemoryStore()))
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(c.GinMiddleware())

	entered := make(chan struct{})
	release := make(chan struct{})
	r.POST("/v1/slow", func(ctx *gin.Context) {
		close(entered)
		<-release
		ctx.String(http.StatusOK, "done")
	})

	first := make(chan *httptest.ResponseRecorder)
	go func() { first <- doRequest(r, http.MethodPost, "/v1/slow", "slow-1", "", `{}`) }()
	<-entered

	w := doRequest(r, http.MethodPost, "/v1/slow", "slow-1", "", `{}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "2", w.Header().Get("Retry-After"))
	body := decodeError(t, w)
	assert.Equal(t, CodeRequestInProgress, body.Error.Code)
	assert.Equal(t, "Request already in progress", body.Error.Message)

	close(release)
	assert.Equal(t, http.StatusOK, (<-first).Code)

	w = doRequest(r, http.MethodPost, "/v1/slow", "slow-1", "", `{}`)
	assert.Equal(t, "done", w.Body.String())
	assert.Equal(t, "text/plain; charset=utf-8", w.Header().Get("Content-Type"))
}

func TestGinMiddlewareStoreUnavailable(t *testing.T) {
	var executions atomic.Int32

	t.Run("closed policy rejects", func(t *testing.T) {
		c := newCoordinator(t, &Config{FailurePolicy: FailClosed}, WithStore(&failingStore{}))
		w := doRequest(newInvoiceRouter(t, c, &executions), http.MethodPost, "/v1/invoices", "abc-1", "42", `{"amount":10}`)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, CodeStoreUnavailable, decodeError(t, w).Error.Code)
		assert.Equal(t, int32(0), executions.Load())
	})

	t.Run("open policy proceeds", func(t *testing.T) {
		c := newCoordinator(t, nil, WithStore(&failingStore{}))
		w := doRequest(newInvoiceRouter(t, c, &executions), http.MethodPost, "/v1/invoices", "abc-1", "42", `{"amount":10}`)
		assert.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, int32(1), executions.Load())
	})
}

func TestGinMiddlewareBodyHandling(t *testing.T) {
	c := newCoordinator(t, &Config{MaxBodyBytes: 16}, WithStore(NewMemoryStore()))
	var executions atomic.Int32
	r := newInvoiceRouter(t, c, &executions)

	w := doRequest(r, http.MethodPost, "/v1/invoices", "big-1", "42", `{"amount":1234567890123}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, CodePayloadTooLarge, decodeError(t, w).Error.Code)
	assert.Equal(t, int32(0), executions.Load())

	// 中间件读取后还原请求体，handler 仍能绑定
	w = doRequest(r, http.MethodPost, "/v1/invoices", "small-1", "42", `{"amount":7}`)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"amount":7`)
}

func TestGinMiddlewareCustomHeader(t *testing.T) {
	c := newCoordinator(t, nil, WithStore(NewMemoryStore()))
	var executions atomic.Int32
	r := newInvoiceRouter(t, c, &executions, WithHeaderNames("X-Request-Token"))

	send := func(header string) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader(`{}`))
		req.Header.Set(header, "job-1")
		r.ServeHTTP(w, req)
	}
	send("X-Request-Token")
	send("X-Request-Token")
	assert.Equal(t, int32(1), executions.Load())

	// 默认头名仍然生效
	send("X-Idem-Key")
	send("X-Idem-Key")
	assert.Equal(t, int32(1), executions.Load(), "与自定义头使用同一个键值，回放同一条记录")
}
