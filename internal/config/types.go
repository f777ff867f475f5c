package config

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Routing  RoutingConfig  `yaml:"routing"`
	Retry    RetryConfig    `yaml:"retry"`
	Accounts AccountsConfig `yaml:"accounts"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// 请求体大小上限（MB），多模态请求体可能很大，默认100MB
	MaxBodySizeMB int `yaml:"max_body_size_mb,omitempty" json:"max_body_size_mb,omitempty"`
}

type LoggingConfig struct {
	Level           string   `yaml:"level"`
	LogRequestTypes string   `yaml:"log_request_types"` // "all" | "failed" | "success"
	LogDirectory    string   `yaml:"log_directory"`
	ExcludePaths    []string `yaml:"exclude_paths,omitempty"` // 不记录日志的路径列表
}

type UpstreamConfig struct {
	BaseURL        string       `yaml:"base_url,omitempty" json:"base_url,omitempty"`
	UserAgent      string       `yaml:"user_agent,omitempty" json:"user_agent,omitempty"`
	AttemptTimeout string       `yaml:"attempt_timeout,omitempty" json:"attempt_timeout,omitempty"` // 单次尝试超时，默认600s
	Proxy          *ProxyConfig `yaml:"proxy,omitempty" json:"proxy,omitempty"`                     // 出站代理配置
}

// 出站代理配置结构，支持热更新
type ProxyConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Type     string `yaml:"type" json:"type"` // "http" | "socks5"
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	Username string `yaml:"username,omitempty" json:"username,omitempty"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`
}

// RoutingConfig 模型路由配置：精确映射 → 系列映射 → 正则规则 → 透传
type RoutingConfig struct {
	// 精确模型名映射
	Exact map[string]string `yaml:"exact,omitempty" json:"exact,omitempty"`
	// 系列默认映射（按家族关键字整词匹配）
	Series []SeriesRule `yaml:"series,omitempty" json:"series,omitempty"`
	// 用户自定义正则规则，按声明顺序匹配
	Rules []RegexRule `yaml:"rules,omitempty" json:"rules,omitempty"`
	// 未命中任何规则时是否允许原名透传，默认允许
	AllowPassthrough *bool `yaml:"allow_passthrough,omitempty" json:"allow_passthrough,omitempty"`
}

type SeriesRule struct {
	Keyword     string `yaml:"keyword" json:"keyword"`           // 家族关键字，如 "claude"、"gpt"
	TargetModel string `yaml:"target_model" json:"target_model"` // 该系列的默认上游模型
}

type RegexRule struct {
	SourcePattern string `yaml:"source_pattern" json:"source_pattern"`
	TargetModel   string `yaml:"target_model" json:"target_model"`
}

// RetryConfig 账号调度重试配置
type RetryConfig struct {
	// 单个请求的最大尝试次数（含首次），实际值不超过账号池大小
	MaxAttempts int `yaml:"max_attempts,omitempty" json:"max_attempts,omitempty"`
}

type AccountsConfig struct {
	// 账号数据库路径（sqlite），由外部凭证采集器写入、本服务读写配额状态
	DatabasePath string `yaml:"database_path" json:"database_path"`
	// Token 过期宽限期，默认5m
	TokenGracePeriod string `yaml:"token_grace_period,omitempty" json:"token_grace_period,omitempty"`
	// Token 刷新端点与客户端凭证，凭证采集器写入账号时约定一致
	TokenURL          string `yaml:"token_url,omitempty" json:"token_url,omitempty"`
	OAuthClientID     string `yaml:"oauth_client_id,omitempty" json:"oauth_client_id,omitempty"`
	OAuthClientSecret string `yaml:"oauth_client_secret,omitempty" json:"oauth_client_secret,omitempty"`
}
