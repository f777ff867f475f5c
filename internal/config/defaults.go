package config

import "time"

// 默认值集中定义，加载配置后统一填充
var Default = struct {
	Server struct {
		Host          string
		Port          int
		MaxBodySizeMB int
	}
	Logging struct {
		Level           string
		LogRequestTypes string
		LogDirectory    string
	}
	Upstream struct {
		BaseURL        string
		UserAgent      string
		AttemptTimeout time.Duration
	}
	Retry struct {
		MaxAttempts int
	}
	Accounts struct {
		TokenGracePeriod time.Duration
	}
}{
	Server: struct {
		Host          string
		Port          int
		MaxBodySizeMB int
	}{
		Host: "127.0.0.1",
		Port: 8045,
		// 多模态请求（内联图片等）体积很大，下限100MB
		MaxBodySizeMB: 100,
	},
	Logging: struct {
		Level           string
		LogRequestTypes string
		LogDirectory    string
	}{
		Level:           "info",
		LogRequestTypes: "all",
		LogDirectory:    "./data",
	},
	Upstream: struct {
		BaseURL        string
		UserAgent      string
		AttemptTimeout time.Duration
	}{
		BaseURL:        "https://cloudcode-pa.googleapis.com/v1internal",
		UserAgent:      "antigravity/1.11.9 windows/amd64",
		AttemptTimeout: 600 * time.Second,
	},
	Retry: struct {
		MaxAttempts int
	}{
		MaxAttempts: 3,
	},
	Accounts: struct {
		TokenGracePeriod time.Duration
	}{
		TokenGracePeriod: 5 * time.Minute,
	},
}

// GetDurationWithDefault 解析时长字符串，空串或解析失败时返回默认值
func GetDurationWithDefault(value string, defaultDuration time.Duration) time.Duration {
	if value == "" {
		return defaultDuration
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultDuration
	}
	return d
}

// DefaultSeriesRules 默认系列映射：各家族关键字归一到同一上游默认模型
func DefaultSeriesRules() []SeriesRule {
	return []SeriesRule{
		{Keyword: "claude", TargetModel: "gemini-3-pro-high"},
		{Keyword: "gpt", TargetModel: "gemini-3-pro-high"},
		{Keyword: "o1", TargetModel: "gemini-3-pro-high"},
		{Keyword: "o3", TargetModel: "gemini-3-pro-high"},
	}
}
