package errors

import (
	"fmt"
	"time"
)

// ErrorType 定义网关错误类型
type ErrorType string

const (
	// 路由相关错误
	ErrorTypeModelNotResolved ErrorType = "model_not_resolved"

	// 账号池相关错误
	ErrorTypePoolExhausted ErrorType = "pool_exhausted"

	// 上游相关错误
	ErrorTypeUpstreamAuthExpired   ErrorType = "upstream_auth_expired"   // 401
	ErrorTypeUpstreamForbidden     ErrorType = "upstream_forbidden"      // 403
	ErrorTypeUpstreamQuotaExceeded ErrorType = "upstream_quota_exceeded" // 429
	ErrorTypeUpstreamNotFound      ErrorType = "upstream_not_found"      // 404，不重试
	ErrorTypeUpstreamTransient     ErrorType = "upstream_transient"      // 网络/5xx

	// 转换相关错误
	ErrorTypeSchemaSanitize ErrorType = "schema_sanitize_error"
	ErrorTypeConversion     ErrorType = "conversion_error"

	// 流相关
	ErrorTypeStreamAborted ErrorType = "stream_aborted" // 客户端断开，不算错误

	// 系统相关错误
	ErrorTypeInternal ErrorType = "internal_error"
)

// GatewayError 统一的网关错误类型
type GatewayError struct {
	Type      ErrorType              `json:"type"`
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Cause     error                  `json:"-"` // 原始错误，不序列化
	Context   map[string]interface{} `json:"context,omitempty"`
	Timestamp time.Time              `json:"timestamp"`

	// 上游 HTTP 状态码（如适用）
	StatusCode int `json:"status_code,omitempty"`
}

// Error 实现error接口
func (e *GatewayError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Type, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Type, e.Code, e.Message)
}

// Unwrap 支持错误链
func (e *GatewayError) Unwrap() error {
	return e.Cause
}

// Is 支持错误比较
func (e *GatewayError) Is(target error) bool {
	if t, ok := target.(*GatewayError); ok {
		return e.Type == t.Type
	}
	return false
}

// WithContext 添加上下文信息
func (e *GatewayError) WithContext(key string, value interface{}) *GatewayError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Retryable 判断该错误类别是否允许换号重试
func (e *GatewayError) Retryable() bool {
	switch e.Type {
	case ErrorTypeUpstreamAuthExpired, ErrorTypeUpstreamForbidden,
		ErrorTypeUpstreamQuotaExceeded, ErrorTypeUpstreamTransient:
		return true
	}
	return false
}

// NewGatewayError 创建新的网关错误
func NewGatewayError(errorType ErrorType, code, message string) *GatewayError {
	return &GatewayError{
		Type:      errorType,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// WrapError 包装现有错误
func WrapError(errorType ErrorType, code, message string, cause error) *GatewayError {
	return &GatewayError{
		Type:      errorType,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Timestamp: time.Now(),
	}
}

// 预定义的常用错误

func NewModelNotResolvedError(model string) *GatewayError {
	return NewGatewayError(ErrorTypeModelNotResolved, "model_not_found",
		fmt.Sprintf("model '%s' could not be resolved to an upstream target", model)).
		WithContext("model", model)
}

func NewPoolExhaustedError(message string) *GatewayError {
	return NewGatewayError(ErrorTypePoolExhausted, "no_available_accounts", message)
}

func NewUpstreamError(statusCode int, body string) *GatewayError {
	e := NewGatewayError(classifyStatus(statusCode), "upstream_error",
		fmt.Sprintf("upstream returned HTTP %d", statusCode))
	e.StatusCode = statusCode
	// 错误体可能包含诊断信息，但绝不包含凭证
	if body != "" {
		e.WithContext("upstream_body", body)
	}
	return e
}

func NewTransientError(message string, cause error) *GatewayError {
	return WrapError(ErrorTypeUpstreamTransient, "network_error", message, cause)
}

func NewSchemaSanitizeError(message string, cause error) *GatewayError {
	return WrapError(ErrorTypeSchemaSanitize, "invalid_schema", message, cause)
}

func NewConversionError(stage, message string, cause error) *GatewayError {
	return WrapError(ErrorTypeConversion, "conversion_failed", message, cause).
		WithContext("stage", stage)
}

func NewStreamAbortedError(cause error) *GatewayError {
	return WrapError(ErrorTypeStreamAborted, "client_disconnected", "client closed the connection", cause)
}

func NewInternalError(message string, cause error) *GatewayError {
	return WrapError(ErrorTypeInternal, "internal_error", message, cause)
}

// classifyStatus 将上游 HTTP 状态码归类到错误类型
func classifyStatus(statusCode int) ErrorType {
	switch statusCode {
	case 401:
		return ErrorTypeUpstreamAuthExpired
	case 403:
		return ErrorTypeUpstreamForbidden
	case 404:
		return ErrorTypeUpstreamNotFound
	case 429:
		return ErrorTypeUpstreamQuotaExceeded
	}
	if statusCode >= 500 {
		return ErrorTypeUpstreamTransient
	}
	return ErrorTypeInternal
}
