package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestApplyDefaults 未设置字段按默认值填充
func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 8045 {
		t.Errorf("Server默认值异常: %+v", cfg.Server)
	}
	if cfg.Server.MaxBodySizeMB != 100 {
		t.Errorf("MaxBodySizeMB = %d, want 100", cfg.Server.MaxBodySizeMB)
	}
	if cfg.Upstream.BaseURL != "https://cloudcode-pa.googleapis.com/v1internal" {
		t.Errorf("BaseURL = %q", cfg.Upstream.BaseURL)
	}
	if cfg.Upstream.UserAgent != "antigravity/1.11.9 windows/amd64" {
		t.Errorf("UserAgent = %q", cfg.Upstream.UserAgent)
	}
	if cfg.Retry.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", cfg.Retry.MaxAttempts)
	}
	if len(cfg.Routing.Series) == 0 {
		t.Error("应填充默认系列规则")
	}
}

// TestApplyDefaultsBodySizeFloor 请求体上限低于100MB时强制提升
func TestApplyDefaultsBodySizeFloor(t *testing.T) {
	cfg := &Config{}
	cfg.Server.MaxBodySizeMB = 10
	ApplyDefaults(cfg)
	if cfg.Server.MaxBodySizeMB != 100 {
		t.Errorf("MaxBodySizeMB = %d, 下限应为100", cfg.Server.MaxBodySizeMB)
	}

	cfg2 := &Config{}
	cfg2.Server.MaxBodySizeMB = 200
	ApplyDefaults(cfg2)
	if cfg2.Server.MaxBodySizeMB != 200 {
		t.Errorf("超过下限的配置不应被改写: %d", cfg2.Server.MaxBodySizeMB)
	}
}

// TestLoadConfigRoundTrip 保存后重新加载内容一致
func TestLoadConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := &Config{}
	cfg.Server.Port = 9000
	cfg.Routing.Exact = map[string]string{"claude-sonnet-4-5": "gemini-3-pro-low"}
	cfg.Upstream.Proxy = &ProxyConfig{
		Enabled: true,
		Type:    "socks5",
		Host:    "127.0.0.1",
		Port:    1080,
	}
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if loaded.Server.Port != 9000 {
		t.Errorf("Port = %d", loaded.Server.Port)
	}
	if loaded.Routing.Exact["claude-sonnet-4-5"] != "gemini-3-pro-low" {
		t.Errorf("Exact映射丢失: %v", loaded.Routing.Exact)
	}
	if loaded.Upstream.Proxy == nil || loaded.Upstream.Proxy.Port != 1080 {
		t.Errorf("Proxy配置丢失: %+v", loaded.Upstream.Proxy)
	}
	// 默认值应已填充
	if loaded.Server.Host != "127.0.0.1" {
		t.Errorf("Host = %q", loaded.Server.Host)
	}
}

// TestLoadConfigInvalid 非法配置加载失败
func TestLoadConfigInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"非法正则", "routing:\n  rules:\n    - source_pattern: \"[\"\n      target_model: \"m\"\n"},
		{"正则缺目标", "routing:\n  rules:\n    - source_pattern: \"^x\"\n"},
		{"系列缺关键字", "routing:\n  series:\n    - target_model: \"m\"\n"},
		{"非法YAML", "server: [inva"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatalf("写入失败: %v", err)
			}
			if _, err := LoadConfig(path); err == nil {
				t.Error("应返回错误")
			}
		})
	}
}

// TestValidateProxyConfig 代理配置校验
func TestValidateProxyConfig(t *testing.T) {
	tests := []struct {
		name    string
		proxy   ProxyConfig
		wantErr bool
	}{
		{"http代理合法", ProxyConfig{Enabled: true, Type: "http", Host: "127.0.0.1", Port: 8080}, false},
		{"socks5代理合法", ProxyConfig{Enabled: true, Type: "socks5", Host: "127.0.0.1", Port: 1080}, false},
		{"未启用不校验", ProxyConfig{Enabled: false, Type: "bad"}, false},
		{"非法类型", ProxyConfig{Enabled: true, Type: "quic", Host: "h", Port: 1}, true},
		{"缺主机", ProxyConfig{Enabled: true, Type: "http", Port: 8080}, true},
		{"非法端口", ProxyConfig{Enabled: true, Type: "http", Host: "h", Port: 70000}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			ApplyDefaults(cfg)
			cfg.Upstream.Proxy = &tt.proxy
			err := ValidateConfig(cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr = %v", err, tt.wantErr)
			}
		})
	}
}

// TestProxyURL 代理URL拼装含认证信息
func TestProxyURL(t *testing.T) {
	tests := []struct {
		name     string
		proxy    ProxyConfig
		expected string
	}{
		{
			"无认证",
			ProxyConfig{Type: "http", Host: "127.0.0.1", Port: 8080},
			"http://127.0.0.1:8080",
		},
		{
			"带认证",
			ProxyConfig{Type: "socks5", Host: "proxy.local", Port: 1080, Username: "u", Password: "p"},
			"socks5://u:p@proxy.local:1080",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.proxy.ProxyURL(); got != tt.expected {
				t.Errorf("ProxyURL = %q, want %q", got, tt.expected)
			}
		})
	}
}

// TestGetDurationWithDefault 时长解析与回退
func TestGetDurationWithDefault(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		expected time.Duration
	}{
		{"合法时长", "90s", 90 * time.Second},
		{"空串回退", "", 5 * time.Minute},
		{"非法格式回退", "fast", 5 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetDurationWithDefault(tt.value, 5*time.Minute); got != tt.expected {
				t.Errorf("GetDurationWithDefault(%q) = %v, want %v", tt.value, got, tt.expected)
			}
		})
	}
}
