package errors

import (
	"errors"
	"net/http"
)

// HTTPStatus 返回面向客户端的 HTTP 状态码
func (e *GatewayError) HTTPStatus() int {
	switch e.Type {
	case ErrorTypeModelNotResolved:
		return http.StatusNotFound
	case ErrorTypePoolExhausted:
		return http.StatusServiceUnavailable
	case ErrorTypeUpstreamQuotaExceeded:
		return http.StatusTooManyRequests
	case ErrorTypeUpstreamNotFound:
		return http.StatusNotFound
	case ErrorTypeUpstreamForbidden:
		return http.StatusForbidden
	case ErrorTypeUpstreamAuthExpired:
		return http.StatusUnauthorized
	case ErrorTypeSchemaSanitize:
		return http.StatusBadRequest
	case ErrorTypeUpstreamTransient:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// ToOpenAIBody 渲染为 OpenAI 错误信封
func (e *GatewayError) ToOpenAIBody() map[string]interface{} {
	return map[string]interface{}{
		"error": map[string]interface{}{
			"message": e.Message,
			"type":    string(e.Type),
			"code":    e.Code,
		},
	}
}

// ToAnthropicBody 渲染为 Anthropic 错误信封
func (e *GatewayError) ToAnthropicBody() map[string]interface{} {
	anthropicType := "api_error"
	switch e.Type {
	case ErrorTypePoolExhausted, ErrorTypeUpstreamQuotaExceeded:
		anthropicType = "overloaded_error"
	case ErrorTypeModelNotResolved, ErrorTypeUpstreamNotFound:
		anthropicType = "not_found_error"
	case ErrorTypeSchemaSanitize:
		anthropicType = "invalid_request_error"
	case ErrorTypeUpstreamAuthExpired:
		anthropicType = "authentication_error"
	case ErrorTypeUpstreamForbidden:
		anthropicType = "permission_error"
	}
	return map[string]interface{}{
		"type": "error",
		"error": map[string]interface{}{
			"type":    anthropicType,
			"message": e.Message,
		},
	}
}

// AsGatewayError 从错误链中提取 GatewayError，失败时包一层 internal
func AsGatewayError(err error) *GatewayError {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge
	}
	return NewInternalError(err.Error(), err)
}
