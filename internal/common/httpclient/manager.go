package httpclient

import (
	"net/http"
	"sync"

	"antigravity-gateway/internal/config"
)

// Manager 上游HTTP客户端管理器，支持代理配置热更新
type Manager struct {
	client   *http.Client
	proxyCfg *config.ProxyConfig
	mutex    sync.RWMutex
}

// NewManager 按初始代理配置创建管理器
func NewManager(proxyCfg *config.ProxyConfig) (*Manager, error) {
	m := &Manager{}
	if err := m.rebuild(proxyCfg); err != nil {
		return nil, err
	}
	return m, nil
}

// GetClient 获取当前上游客户端
func (m *Manager) GetClient() *http.Client {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.client
}

// UpdateProxy 代理配置变化时重建客户端，未变化则跳过
func (m *Manager) UpdateProxy(proxyCfg *config.ProxyConfig) error {
	m.mutex.RLock()
	unchanged := proxyConfigEqual(m.proxyCfg, proxyCfg)
	m.mutex.RUnlock()
	if unchanged {
		return nil
	}
	return m.rebuild(proxyCfg)
}

func (m *Manager) rebuild(proxyCfg *config.ProxyConfig) error {
	cfg := DefaultUpstreamConfig()
	cfg.ProxyConfig = proxyCfg

	client, err := CreateClient(cfg)
	if err != nil {
		return err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	// 旧transport的空闲连接主动关闭，避免泄漏
	if m.client != nil {
		if grt, ok := m.client.Transport.(*gzipRoundTripper); ok {
			if t, ok := grt.transport.(*http.Transport); ok {
				t.CloseIdleConnections()
			}
		}
	}

	m.client = client
	m.proxyCfg = proxyCfg
	return nil
}

func proxyConfigEqual(a, b *config.ProxyConfig) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return *a == *b
}
