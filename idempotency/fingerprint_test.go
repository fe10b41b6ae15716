package idempotency

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/metadata"

	"github.com/ceyewan/fieldops/xerrors"
)

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty body", "", "null"},
		{"whitespace body", "  \n", "null"},
		{"sorted keys", `{"b":1, "a":{"d":true,"c":null}}`, `{"a":{"c":null,"d":true},"b":1}`},
		{"array order kept", `[3, 1, 2]`, `[3,1,2]`},
		{"integer", `10`, `10`},
		{"float with zero fraction", `10.0`, `10`},
		{"exponent", `1e1`, `10`},
		{"large exponent", `1e6`, `1000000`},
		{"large float with zero fraction", `1000000.0`, `1000000`},
		{"integral amount in object", `{"amount_cents":2500000.0}`, `{"amount_cents":2500000}`},
		{"negative integral float", `-2.5e3`, `-2500`},
		{"fraction", `0.50`, `0.5`},
		{"negative zero", `-0.0`, `0`},
		{"beyond int64", `12345678901234567890`, `1.2345678901234567e+19`},
		{"no html escaping", `"<a&b>"`, `"<a&b>"`},
		{"unicode escapes decoded", `"\u00e9"`, `"é"`},
		{"combining sequence normalized", `"e\u0301"`, `"é"`},
		{"keys normalized", `{"cafe\u0301":1}`, `{"café":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Canonicalize([]byte(tt.in))
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestCanonicalizeInvalid(t *testing.T) {
	for _, in := range []string{`{"a":`, `{"a":1} {"b":2}`, `1e999`} {
		_, err := Canonicalize([]byte(in))
		assert.ErrorIs(t, err, xerrors.ErrInvalidInput, in)
	}
}

func TestFingerprintEquivalence(t *testing.T) {
	a, err := FingerprintJSON([]byte(`{"amount": 10, "customer": "c-1"}`))
	require.NoError(t, err)
	b, err := FingerprintJSON([]byte(`{"customer":"c-1","amount":1e1}`))
	require.NoError(t, err)
	c, err := Fingerprint(map[string]any{"amount": 10.0, "customer": "c-1"})
	require.NoError(t, err)

	assert.Len(t, a, 64)
	assert.Equal(t, a, b)
	assert.Equal(t, a, c)

	d, err := Fingerprint(map[string]any{"amount": 20, "customer": "c-1"})
	require.NoError(t, err)
	assert.NotEqual(t, a, d)
}

func TestHTTPFingerprint(t *testing.T) {
	base, err := HTTPFingerprint(http.MethodPost, "/v1/invoices", []byte(`{"amount":10}`))
	require.NoError(t, err)

	same, err := HTTPFingerprint(http.MethodPost, "/v1/invoices", []byte(`{ "amount" : 10.0 }`))
	require.NoError(t, err)
	assert.Equal(t, base, same)

	otherRoute, err := HTTPFingerprint(http.MethodPost, "/v1/jobs", []byte(`{"amount":10}`))
	require.NoError(t, err)
	assert.NotEqual(t, base, otherRoute, "同一个请求体换路由应得到不同指纹")

	text, err := HTTPFingerprint(http.MethodPost, "/v1/invoices", []byte("amount=10"))
	require.NoError(t, err, "非 JSON 请求体按字符串参与指纹")
	assert.NotEqual(t, base, text)
}

func TestResolveScope(t *testing.T) {
	assert.Equal(t, "user:42", ResolveScope("42", "10.0.0.1", "curl"))
	assert.Equal(t, "user:acme/42", ResolveScope("acme/42", "", ""))

	anon := ResolveScope("", "10.0.0.1", "curl/8")
	assert.True(t, strings.HasPrefix(anon, "ip:"))
	assert.Len(t, anon, len("ip:")+64)
	assert.NotContains(t, anon, "10.0.0.1")
	assert.Equal(t, anon, ResolveScope("", "10.0.0.1", "curl/8"))
	assert.NotEqual(t, anon, ResolveScope("", "10.0.0.1", "curl/9"))
}

func TestKeyExtraction(t *testing.T) {
	tests := []struct {
		name   string
		header string
		value  string
	}{
		{"standard", "Idempotency-Key", "abc-1"},
		{"lowercase", "idempotency-key", "abc-1"},
		{"x prefixed", "X-Idempotency-Key", "abc-1"},
		{"short", "x-idem-key", "abc-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			h.Set(tt.header, tt.value)
			assert.Equal(t, tt.value, KeyFromHeader(h))

			md := metadata.Pairs(tt.header, tt.value)
			assert.Equal(t, tt.value, KeyFromMetadata(md))
		})
	}

	assert.Empty(t, KeyFromHeader(http.Header{}))
	assert.Empty(t, KeyFromHeader(http.Header{"Idempotency-Key": {"   "}}))
	assert.Empty(t, KeyFromMetadata(nil))

	h := http.Header{}
	h.Set("X-Idem-Key", "later")
	h.Set("Idempotency-Key", "first")
	assert.Equal(t, "first", KeyFromHeader(h))

	// 首尾空白不属于键，带空白的重试与原请求是同一个键
	assert.Equal(t, "abc-1", KeyFromHeader(http.Header{"Idempotency-Key": {" abc-1\t"}}))
	assert.Equal(t, "abc-1", KeyFromMetadata(metadata.Pairs("idempotency-key", "  abc-1 ")))
}
