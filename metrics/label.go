package metrics

import (
	"strconv"
	"strings"

	"google.golang.org/grpc/codes"
)

// Label 指标标签。标签值应保持低基数，不要放用户 ID、请求 ID 这类值。
type Label struct {
	Key   string
	Value string
}

// L 创建一个 Label
func L(key, value string) Label {
	return Label{Key: key, Value: value}
}

// 常用标签键
const (
	LabelService     = "service"
	LabelOperation   = "operation"
	LabelMethod      = "method"
	LabelRoute       = "route"
	LabelStatusClass = "status_class"
	LabelOutcome     = "outcome"
	LabelGRPCCode    = "grpc_code"
)

const (
	OperationHTTPServer = "http.server"
	OperationGRPCServer = "grpc.server"

	OutcomeSuccess = "success"
	OutcomeError   = "error"

	// UnknownRoute 未命中路由时的统一标签值，避免原始路径造成高基数
	UnknownRoute = "unknown"
)

// HTTPStatusClass 返回 1xx/2xx/3xx/4xx/5xx，非法状态码返回 unknown
func HTTPStatusClass(status int) string {
	if status < 100 || status > 599 {
		return "unknown"
	}
	return strconv.Itoa(status/100) + "xx"
}

// HTTPOutcome 2xx 与 3xx 视为成功
func HTTPOutcome(status int) string {
	if status >= 200 && status < 400 {
		return OutcomeSuccess
	}
	return OutcomeError
}

// GRPCStatusClass 将 gRPC 状态码转为小写标签
func GRPCStatusClass(code codes.Code) string {
	if code == codes.OK {
		return "ok"
	}
	return strings.ToLower(code.String())
}

// GRPCOutcome 只有 OK 视为成功
func GRPCOutcome(code codes.Code) string {
	if code == codes.OK {
		return OutcomeSuccess
	}
	return OutcomeError
}
