package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadConfig 从 YAML 文件加载配置并填充默认值
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %v", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %v", err)
	}

	ApplyDefaults(&cfg)

	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ApplyDefaults 对未设置的字段填充默认值
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = Default.Server.Host
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = Default.Server.Port
	}
	// 请求体上限至少100MB
	if cfg.Server.MaxBodySizeMB < Default.Server.MaxBodySizeMB {
		cfg.Server.MaxBodySizeMB = Default.Server.MaxBodySizeMB
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = Default.Logging.Level
	}
	if cfg.Logging.LogRequestTypes == "" {
		cfg.Logging.LogRequestTypes = Default.Logging.LogRequestTypes
	}
	if cfg.Logging.LogDirectory == "" {
		cfg.Logging.LogDirectory = Default.Logging.LogDirectory
	}

	if cfg.Upstream.BaseURL == "" {
		cfg.Upstream.BaseURL = Default.Upstream.BaseURL
	}
	if cfg.Upstream.UserAgent == "" {
		cfg.Upstream.UserAgent = Default.Upstream.UserAgent
	}

	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = Default.Retry.MaxAttempts
	}

	if len(cfg.Routing.Series) == 0 {
		cfg.Routing.Series = DefaultSeriesRules()
	}

	if cfg.Accounts.DatabasePath == "" {
		cfg.Accounts.DatabasePath = "./data/accounts.db"
	}
}

// SaveConfig 将配置写回文件（热更新持久化）
func SaveConfig(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %v", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %v", err)
	}

	return nil
}
