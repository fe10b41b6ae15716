package clog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/trace"
)

func newJSONLogger(t *testing.T, level string, opts ...Option) (Logger, *bytes.Buffer) {
	t.Helper()
	buf := &bytes.Buffer{}
	opts = append(opts, WithWriter(buf))
	logger, err := New(&Config{Level: level, Format: "json"}, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return logger, buf
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var m map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &m); err != nil {
		t.Fatalf("unmarshal log line %q: %v", buf.String(), err)
	}
	return m
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{name: "nil config", config: nil},
		{name: "valid", config: &Config{Level: "info", Format: "json"}},
		{name: "invalid level", config: &Config{Level: "verbose"}, wantErr: true},
		{name: "invalid format", config: &Config{Format: "xml"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.config)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNamespaceAndFields(t *testing.T) {
	logger, buf := newJSONLogger(t, "debug", WithNamespace("fieldops"))

	logger.WithNamespace("idempotency").With(String("scope", "user:42")).
		Info("decision", String("outcome", "replay"), Error(errors.New("boom")))

	m := decodeLine(t, buf)
	if m[NamespaceKey] != "fieldops.idempotency" {
		t.Errorf("namespace = %v", m[NamespaceKey])
	}
	if m["scope"] != "user:42" || m["outcome"] != "replay" {
		t.Errorf("fields missing: %v", m)
	}
	if m["err_msg"] != "boom" {
		t.Errorf("err_msg = %v", m["err_msg"])
	}
	if m["level"] != "INFO" {
		t.Errorf("level = %v", m["level"])
	}
}

func TestSetLevel(t *testing.T) {
	logger, buf := newJSONLogger(t, "warn")

	logger.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level, got %q", buf.String())
	}

	if err := logger.SetLevel(DebugLevel); err != nil {
		t.Fatalf("SetLevel() error = %v", err)
	}
	logger.Debug("visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Fatalf("debug should pass after SetLevel, got %q", buf.String())
	}
}

func TestContextExtraction(t *testing.T) {
	logger, buf := newJSONLogger(t, "info", WithStandardContext(), WithTraceContext())

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))
	ctx = context.WithValue(ctx, RequestIDKey, "req-1")

	logger.InfoContext(ctx, "with context")

	m := decodeLine(t, buf)
	if m["request_id"] != "req-1" {
		t.Errorf("request_id = %v", m["request_id"])
	}
	if m["trace_id"] != traceID.String() || m["span_id"] != spanID.String() {
		t.Errorf("trace fields = %v / %v", m["trace_id"], m["span_id"])
	}
}

func TestErrorWithCode(t *testing.T) {
	logger, buf := newJSONLogger(t, "info")

	logger.Warn("conflict", ErrorWithCode(errors.New("key reused"), "IDEMPOTENCY_KEY_CONFLICT"))

	m := decodeLine(t, buf)
	group, ok := m["error"].(map[string]any)
	if !ok {
		t.Fatalf("error group missing: %v", m)
	}
	if group["code"] != "IDEMPOTENCY_KEY_CONFLICT" || group["msg"] != "key reused" {
		t.Errorf("error group = %v", group)
	}
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]Level{"DEBUG": DebugLevel, "warning": WarnLevel, "fatal": FatalLevel} {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Error("ParseLevel(loud) should fail")
	}
}

func TestDiscard(t *testing.T) {
	l := Discard().WithNamespace("x").With(String("k", "v"))
	l.Info("nothing")
	if err := l.SetLevel(DebugLevel); err != nil {
		t.Fatalf("Discard SetLevel error = %v", err)
	}
}
