package idempotency

import (
	"context"
	"encoding/json"
	"net"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	spb "google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/protoadapt"
	"google.golang.org/protobuf/types/known/anypb"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/ceyewan/fieldops/clog"
)

// 回放 gRPC 结果时用 ContentType 区分成功响应与错误状态
const (
	contentTypeGRPCResponse = "application/x-protobuf; type=google.protobuf.Any"
	contentTypeGRPCStatus   = "application/x-protobuf; type=google.rpc.Status"

	errorDomain = "fieldops.idempotency"
)

// UnaryServerInterceptor 创建 gRPC 一元服务端拦截器
//
// 冲突返回 FailedPrecondition，处理中返回 Aborted（带 RetryInfo），
// 存储不可用且策略为 closed 时返回 Unavailable。回放时返回缓存的响应消息，
// 原调用失败的则返回同样的 status。
//
// 使用示例:
//
//	s := grpc.NewServer(grpc.ChainUnaryInterceptor(idem.UnaryServerInterceptor()))
func (c *coordinator) UnaryServerInterceptor(opts ...InterceptorOption) grpc.UnaryServerInterceptor {
	o := interceptorOptions{
		metadataKeys: DefaultHeaderNames,
		identity:     func(context.Context) string { return "" },
	}
	for _, opt := range opts {
		opt(&o)
	}

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		key := keyFromMetadata(md, o.metadataKeys)
		if key == "" {
			return handler(ctx, req)
		}

		fingerprint, err := grpcFingerprint(info.FullMethod, req)
		if err != nil {
			c.logger.WarnContext(ctx, "skip idempotency for unfingerprintable request",
				clog.String("method", info.FullMethod), clog.Error(err))
			return handler(ctx, req)
		}
		scope := ResolveScope(o.identity(ctx), peerHost(ctx), firstValue(md, "user-agent"))

		d, err := c.Begin(ctx, key, scope, fingerprint)
		if err != nil {
			return nil, idempotencyStatus(codes.Unavailable, CodeStoreUnavailable, "Idempotency store unavailable", d)
		}

		switch d.Outcome {
		case OutcomeConflict:
			return nil, idempotencyStatus(codes.FailedPrecondition, CodeKeyConflict, "Idempotency key conflict", d)
		case OutcomeInProgress:
			return nil, idempotencyStatus(codes.Aborted, CodeRequestInProgress, "Request already in progress", d)
		case OutcomeReplay:
			_ = grpc.SetHeader(ctx, metadata.Pairs(HeaderReplayed, "true"))
			return decodeGRPCReplay(d)
		}

		rec := NewRecorder(c, d)
		defer rec.Stop()

		resp, herr := handler(ctx, req)
		if d.Tracked {
			code, body, contentType, err := encodeGRPCResult(resp, herr)
			if err != nil {
				// 无法缓存的结果不能回放，释放记录让重试重新执行
				c.logger.ErrorContext(ctx, "failed to encode gRPC result for replay",
					clog.String("method", info.FullMethod), clog.Error(err))
				rec.Release(ctx)
			} else {
				rec.Record(ctx, code, body, contentType)
			}
		}
		return resp, herr
	}
}

// grpcFingerprint 方法名与请求的 protojson 一起参与哈希
func grpcFingerprint(method string, req any) (string, error) {
	var body []byte
	if msg, ok := req.(proto.Message); ok && msg != nil {
		raw, err := protojson.Marshal(msg)
		if err != nil {
			return "", err
		}
		body = raw
	} else if req != nil {
		return Fingerprint(map[string]any{"method": method, "body": req})
	}
	if len(body) == 0 {
		body = []byte("null")
	}
	return Fingerprint(map[string]any{"method": method, "body": json.RawMessage(body)})
}

func encodeGRPCResult(resp any, herr error) (int, []byte, string, error) {
	if herr != nil {
		st := status.Convert(herr)
		body, err := proto.Marshal(st.Proto())
		return int(st.Code()), body, contentTypeGRPCStatus, err
	}
	msg, ok := resp.(proto.Message)
	if !ok {
		return 0, nil, "", status.Errorf(codes.Internal, "response %T is not a proto message", resp)
	}
	wrapped, err := anypb.New(msg)
	if err != nil {
		return 0, nil, "", err
	}
	body, err := proto.Marshal(wrapped)
	return int(codes.OK), body, contentTypeGRPCResponse, err
}

func decodeGRPCReplay(d *Decision) (any, error) {
	if d.ContentType == contentTypeGRPCStatus {
		var st spb.Status
		if err := proto.Unmarshal(d.Body, &st); err != nil {
			return nil, status.Error(codes.Internal, "corrupt cached status")
		}
		return nil, status.ErrorProto(&st)
	}

	var wrapped anypb.Any
	if err := proto.Unmarshal(d.Body, &wrapped); err != nil {
		return nil, status.Error(codes.Internal, "corrupt cached response")
	}
	msg, err := wrapped.UnmarshalNew()
	if err != nil {
		return nil, status.Error(codes.Internal, "unknown cached response type")
	}
	return msg, nil
}

// idempotencyStatus 构造带 ErrorInfo 的状态，Reason 为稳定错误码
func idempotencyStatus(code codes.Code, reason, message string, d *Decision) error {
	st := status.New(code, message)
	details := []protoadapt.MessageV1{&errdetails.ErrorInfo{Reason: reason, Domain: errorDomain}}
	if d != nil && d.Outcome == OutcomeInProgress && d.RetryAfter > 0 {
		details = append(details, &errdetails.RetryInfo{RetryDelay: durationpb.New(d.RetryAfter)})
	}
	withDetails, err := st.WithDetails(details...)
	if err != nil {
		return st.Err()
	}
	return withDetails.Err()
}

func peerHost(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return ""
	}
	addr := p.Addr.String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

func firstValue(md metadata.MD, key string) string {
	if vals := md.Get(key); len(vals) > 0 {
		return vals[0]
	}
	return ""
}
