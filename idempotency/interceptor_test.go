package idempotency

import (
	"context"
	"net"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const createMethod = "/fieldops.invoice.v1.InvoiceService/CreateInvoice"

func incoming(key, user string) context.Context {
	md := metadata.Pairs("user-agent", "grpc-go/1.77")
	if key != "" {
		md.Set("idempotency-key", key)
	}
	if user != "" {
		md.Set("x-user", user)
	}
	ctx := peer.NewContext(context.Background(), &peer.Peer{Addr: &net.TCPAddr{IP: net.ParseIP("10.1.2.3"), Port: 50051}})
	return metadata.NewIncomingContext(ctx, md)
}

func metadataUser(ctx context.Context) string {
	md, _ := metadata.FromIncomingContext(ctx)
	return firstValue(md, "x-user")
}

func errorReason(t *testing.T, err error) string {
	t.Helper()
	st, ok := status.FromError(err)
	require.True(t, ok)
	for _, d := range st.Details() {
		if info, ok := d.(*errdetails.ErrorInfo); ok {
			return info.Reason
		}
	}
	return ""
}

func TestUnaryServerInterceptor(t *testing.T) {
	c := newCoordinator(t, nil, WithStore(newSQLiteStore(t)))
	interceptor := c.UnaryServerInterceptor(WithContextIdentity(metadataUser))
	info := &grpc.UnaryServerInfo{FullMethod: createMethod}

	var calls atomic.Int32
	handler := func(ctx context.Context, req any) (any, error) {
		calls.Add(1)
		amount := req.(*wrapperspb.Int64Value).GetValue()
		if amount < 0 {
			return nil, status.Error(codes.InvalidArgument, "amount must be positive")
		}
		return wrapperspb.String("inv-9"), nil
	}

	t.Run("replays response", func(t *testing.T) {
		resp, err := interceptor(incoming("abc-1", "42"), wrapperspb.Int64(10), info, handler)
		require.NoError(t, err)
		assert.Equal(t, "inv-9", resp.(*wrapperspb.StringValue).GetValue())

		resp, err = interceptor(incoming("abc-1", "42"), wrapperspb.Int64(10), info, handler)
		require.NoError(t, err)
		assert.True(t, proto.Equal(wrapperspb.String("inv-9"), resp.(proto.Message)))
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("conflict", func(t *testing.T) {
		_, err := interceptor(incoming("abc-1", "42"), wrapperspb.Int64(20), info, handler)
		assert.Equal(t, codes.FailedPrecondition, status.Code(err))
		assert.Equal(t, CodeKeyConflict, errorReason(t, err))
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("replays error status", func(t *testing.T) {
		_, err := interceptor(incoming("neg-1", "42"), wrapperspb.Int64(-1), info, handler)
		require.Equal(t, codes.InvalidArgument, status.Code(err))

		_, err = interceptor(incoming("neg-1", "42"), wrapperspb.Int64(-1), info, handler)
		assert.Equal(t, codes.InvalidArgument, status.Code(err))
		assert.Equal(t, "amount must be positive", status.Convert(err).Message())
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("scope isolation", func(t *testing.T) {
		_, err := interceptor(incoming("abc-1", "43"), wrapperspb.Int64(10), info, handler)
		require.NoError(t, err)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("anonymous scope from peer", func(t *testing.T) {
		_, err := interceptor(incoming("anon-1", ""), wrapperspb.Int64(1), info, handler)
		require.NoError(t, err)
		_, err = interceptor(incoming("anon-1", ""), wrapperspb.Int64(1), info, handler)
		require.NoError(t, err)
		assert.Equal(t, int32(4), calls.Load())
	})

	t.Run("no key bypasses", func(t *testing.T) {
		_, _ = interceptor(incoming("", "42"), wrapperspb.Int64(10), info, handler)
		_, _ = interceptor(incoming("", "42"), wrapperspb.Int64(10), info, handler)
		_, _ = interceptor(context.Background(), wrapperspb.Int64(10), info, handler)
		assert.Equal(t, int32(7), calls.Load())
	})
}

func TestUnaryServerInterceptorInProgress(t *testing.T) {
	c := newCoordinator(t, nil, WithStore(NewMemoryStore()))
	interceptor := c.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: createMethod}

	d, err := c.Begin(context.Background(), "busy-1", ResolveScope("", "10.1.2.3", "grpc-go/1.77"),
		mustGRPCFingerprint(t, wrapperspb.Int64(1)))
	require.NoError(t, err)
	require.Equal(t, OutcomeProceed, d.Outcome)

	_, err = interceptor(incoming("busy-1", ""), wrapperspb.Int64(1), info, func(context.Context, any) (any, error) {
		t.Error("处理中的请求不应执行")
		return nil, nil
	})
	assert.Equal(t, codes.Aborted, status.Code(err))
	assert.Equal(t, CodeRequestInProgress, errorReason(t, err))
}

func TestUnaryServerInterceptorStoreUnavailable(t *testing.T) {
	c := newCoordinator(t, &Config{FailurePolicy: FailClosed}, WithStore(&failingStore{}))
	interceptor := c.UnaryServerInterceptor()

	_, err := interceptor(incoming("abc-1", ""), wrapperspb.Int64(1), &grpc.UnaryServerInfo{FullMethod: createMethod},
		func(context.Context, any) (any, error) { return wrapperspb.String("x"), nil })
	assert.Equal(t, codes.Unavailable, status.Code(err))
	assert.Equal(t, CodeStoreUnavailable, errorReason(t, err))
}

func mustGRPCFingerprint(t *testing.T, req proto.Message) string {
	t.Helper()
	fp, err := grpcFingerprint(createMethod, req)
	require.NoError(t, err)
	return fp
}

func TestUnaryServerInterceptorReleasesUnencodableResult(t *testing.T) {
	c := newCoordinator(t, nil, WithStore(NewMemoryStore()))
	interceptor := c.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: createMethod}

	var calls atomic.Int32
	handler := func(context.Context, any) (any, error) {
		calls.Add(1)
		return "not a proto message", nil
	}

	resp, err := interceptor(incoming("raw-1", ""), wrapperspb.Int64(1), info, handler)
	require.NoError(t, err)
	assert.Equal(t, "not a proto message", resp)

	// 结果无法缓存，记录已释放，重试重新执行而不是处理中
	_, err = interceptor(incoming("raw-1", ""), wrapperspb.Int64(1), info, handler)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}
