package trace

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	oteltrace "go.opentelemetry.io/otel/trace"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"default", *DefaultConfig("svc"), false},
		{"missing service", Config{Endpoint: "x:4317"}, true},
		{"missing endpoint", Config{ServiceName: "svc"}, true},
		{"sampler out of range", Config{ServiceName: "svc", Endpoint: "x:4317", Sampler: 1.5}, true},
		{"bad batcher", Config{ServiceName: "svc", Endpoint: "x:4317", Batcher: "eager"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestInitNil(t *testing.T) {
	_, err := Init(nil)
	require.Error(t, err)
}

func TestInitDisabledStillGeneratesTraceID(t *testing.T) {
	shutdown, err := Init(&Config{Enabled: false, ServiceName: "trace-test"})
	require.NoError(t, err)
	defer func() { _ = shutdown(context.Background()) }()

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GinMiddleware("trace-test"))

	var spanCtx oteltrace.SpanContext
	r.GET("/ping", func(c *gin.Context) {
		spanCtx = oteltrace.SpanContextFromContext(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.True(t, spanCtx.HasTraceID())
	assert.True(t, spanCtx.HasSpanID())
}

func TestGRPCServerStatsHandler(t *testing.T) {
	assert.NotNil(t, GRPCServerStatsHandler())
}
