package auth

const (
	// MetricTokensValidated Token 验证计数，标签: status, error_type
	MetricTokensValidated = "auth_tokens_validated_total"

	// MetricTokensGenerated Token 签发计数，标签: status
	MetricTokensGenerated = "auth_tokens_generated_total"
)
