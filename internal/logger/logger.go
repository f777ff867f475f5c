package logger

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// RequestLog 单次客户端请求的记录
type RequestLog struct {
	Timestamp     time.Time `json:"timestamp"`
	RequestID     string    `json:"request_id"`
	Method        string    `json:"method"`
	Path          string    `json:"path"`
	StatusCode    int       `json:"status_code"`
	DurationMs    int64     `json:"duration_ms"`
	AttemptCount  int       `json:"attempt_count"` // 实际发起的上游尝试次数
	AccountEmail  string    `json:"account_email,omitempty"`
	Model         string    `json:"model,omitempty"`          // 客户端请求的原始模型名
	MappedModel   string    `json:"mapped_model,omitempty"`   // 路由后发送给上游的模型名
	Protocol      string    `json:"protocol,omitempty"`       // "openai" | "anthropic" | "gemini"
	IsStreaming   bool      `json:"is_streaming"`
	InputTokens   int       `json:"input_tokens,omitempty"`
	OutputTokens  int       `json:"output_tokens,omitempty"`
	Error         string    `json:"error,omitempty"`
	ErrorCategory string    `json:"error_category,omitempty"`
}

// StorageInterface 定义存储接口
type StorageInterface interface {
	SaveLog(log *RequestLog)
	GetLogs(limit, offset int, failedOnly bool) ([]*RequestLog, int, error)
	CleanupLogsByDays(days int) (int64, error)
	Close() error
}

type LogConfig struct {
	Level           string
	LogRequestTypes string
	LogDirectory    string
	ExcludePaths    []string
}

type Logger struct {
	logger  *logrus.Logger
	storage StorageInterface
	config  LogConfig
}

// NewLogger 创建新的日志记录器
func NewLogger(config LogConfig) (*Logger, error) {
	logger := logrus.New()

	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
	})

	storage, err := NewGORMStorage(config.LogDirectory)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize GORM log storage: %v", err)
	}

	return &Logger{
		logger:  logger,
		storage: storage,
		config:  config,
	}, nil
}

// NewTestLogger 创建不带持久化存储的日志记录器（测试用）
func NewTestLogger() *Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return &Logger{logger: logger}
}

func (l *Logger) LogRequest(log *RequestLog) {
	if l.shouldExcludePath(log.Path) {
		return
	}

	if l.storage != nil {
		l.storage.SaveLog(log)
	}

	if !l.shouldLogRequest(log.StatusCode) {
		return
	}

	fields := logrus.Fields{
		"request_id":  log.RequestID,
		"method":      log.Method,
		"path":        log.Path,
		"status_code": log.StatusCode,
		"duration_ms": log.DurationMs,
	}

	if log.Error != "" {
		fields["error"] = log.Error
	}
	if log.Model != "" {
		fields["model"] = log.Model
	}
	if log.MappedModel != "" && log.MappedModel != log.Model {
		fields["mapped_model"] = log.MappedModel
	}
	if log.AccountEmail != "" {
		fields["account"] = log.AccountEmail
	}
	if log.AttemptCount > 1 {
		fields["attempts"] = log.AttemptCount
	}

	if log.StatusCode >= 400 {
		l.logger.WithFields(fields).Error("Request failed")
	} else {
		l.logger.WithFields(fields).Info("Request completed")
	}
}

func (l *Logger) shouldExcludePath(path string) bool {
	for _, excludePath := range l.config.ExcludePaths {
		if path == excludePath {
			return true
		}
	}
	return false
}

// shouldLogRequest determines if a request should be logged to console based on configuration
func (l *Logger) shouldLogRequest(statusCode int) bool {
	switch l.config.LogRequestTypes {
	case "failed":
		return statusCode >= 400
	case "success":
		return statusCode < 400
	case "all":
		return true
	default:
		return true
	}
}

func (l *Logger) Info(msg string, fields ...logrus.Fields) {
	if len(fields) > 0 {
		l.logger.WithFields(fields[0]).Info(msg)
	} else {
		l.logger.Info(msg)
	}
}

func (l *Logger) Error(msg string, err error, fields ...logrus.Fields) {
	baseFields := logrus.Fields{}
	if err != nil {
		baseFields["error"] = err.Error()
	}

	if len(fields) > 0 {
		for k, v := range fields[0] {
			baseFields[k] = v
		}
	}

	l.logger.WithFields(baseFields).Error(msg)
}

func (l *Logger) Warn(msg string, fields ...logrus.Fields) {
	if len(fields) > 0 {
		l.logger.WithFields(fields[0]).Warn(msg)
	} else {
		l.logger.Warn(msg)
	}
}

func (l *Logger) Debug(msg string, fields ...logrus.Fields) {
	if len(fields) > 0 {
		l.logger.WithFields(fields[0]).Debug(msg)
	} else {
		l.logger.Debug(msg)
	}
}

func (l *Logger) GetLogs(limit, offset int, failedOnly bool) ([]*RequestLog, int, error) {
	if l.storage == nil {
		return []*RequestLog{}, 0, nil
	}
	return l.storage.GetLogs(limit, offset, failedOnly)
}

func (l *Logger) CleanupLogsByDays(days int) (int64, error) {
	if l.storage == nil {
		return 0, fmt.Errorf("storage not available")
	}
	return l.storage.CleanupLogsByDays(days)
}

// Close closes the logger and its storage backend
func (l *Logger) Close() error {
	if l.storage != nil {
		return l.storage.Close()
	}
	return nil
}
