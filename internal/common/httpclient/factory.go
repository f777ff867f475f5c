package httpclient

import (
	"compress/gzip"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	xproxy "golang.org/x/net/proxy"

	"antigravity-gateway/internal/config"
)

// TimeoutConfig 超时配置
type TimeoutConfig struct {
	TLSHandshake   time.Duration
	ResponseHeader time.Duration
	IdleConnection time.Duration
	OverallRequest time.Duration // 0表示无超时，流式请求必须为0
}

// ClientConfig 客户端配置
type ClientConfig struct {
	Timeouts           TimeoutConfig
	ProxyConfig        *config.ProxyConfig
	MaxIdleConns       int
	MaxIdlePerHost     int
	MaxConnsPerHost    int
	DisableKeepAlive   bool
	InsecureSkipVerify bool
}

// DefaultUpstreamConfig 上游客户端默认配置
func DefaultUpstreamConfig() ClientConfig {
	return ClientConfig{
		Timeouts: TimeoutConfig{
			TLSHandshake:   10 * time.Second,
			ResponseHeader: 60 * time.Second,
			IdleConnection: 90 * time.Second,
			OverallRequest: 0, // 整体超时由调用方通过context控制
		},
		MaxIdleConns:    100,
		MaxIdlePerHost:  20,
		MaxConnsPerHost: 100,
	}
}

// CreateClient 根据配置创建HTTP客户端
func CreateClient(cfg ClientConfig) (*http.Client, error) {
	transport := &http.Transport{
		TLSHandshakeTimeout:   cfg.Timeouts.TLSHandshake,
		ResponseHeaderTimeout: cfg.Timeouts.ResponseHeader,
		IdleConnTimeout:       cfg.Timeouts.IdleConnection,
		DisableKeepAlives:     cfg.DisableKeepAlive,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdlePerHost,
		MaxConnsPerHost:       cfg.MaxConnsPerHost,
		ForceAttemptHTTP2:     true,
		WriteBufferSize:       32 * 1024,
		ReadBufferSize:        32 * 1024,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.InsecureSkipVerify,
		},
		DisableCompression: false,
	}

	// 配置出站代理
	if cfg.ProxyConfig != nil && cfg.ProxyConfig.Enabled {
		if err := applyProxy(transport, cfg.ProxyConfig); err != nil {
			return nil, fmt.Errorf("failed to configure proxy: %v", err)
		}
	}

	return &http.Client{
		Transport: &gzipRoundTripper{transport: transport},
		Timeout:   cfg.Timeouts.OverallRequest,
	}, nil
}

// applyProxy 根据代理类型设置transport：http走Proxy字段，socks5走自定义拨号器
func applyProxy(transport *http.Transport, proxyCfg *config.ProxyConfig) error {
	switch proxyCfg.Type {
	case "http":
		proxyURL, err := url.Parse(proxyCfg.ProxyURL())
		if err != nil {
			return fmt.Errorf("invalid proxy url: %v", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	case "socks5":
		var auth *xproxy.Auth
		if proxyCfg.Username != "" {
			auth = &xproxy.Auth{User: proxyCfg.Username, Password: proxyCfg.Password}
		}
		addr := fmt.Sprintf("%s:%d", proxyCfg.Host, proxyCfg.Port)
		dialer, err := xproxy.SOCKS5("tcp", addr, auth, &net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		})
		if err != nil {
			return fmt.Errorf("failed to create socks5 dialer: %v", err)
		}
		transport.DialContext = func(ctx context.Context, network, address string) (net.Conn, error) {
			if cd, ok := dialer.(xproxy.ContextDialer); ok {
				return cd.DialContext(ctx, network, address)
			}
			return dialer.Dial(network, address)
		}
	default:
		return fmt.Errorf("unsupported proxy type: %s", proxyCfg.Type)
	}
	return nil
}

// gzipRoundTripper 自定义RoundTripper，用于处理gzip压缩响应
type gzipRoundTripper struct {
	transport http.RoundTripper
}

// RoundTrip 实现RoundTripper接口，自动处理gzip解压缩
func (grt *gzipRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	// 确保请求包含Accept-Encoding: gzip头部
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", "gzip")
	}

	resp, err := grt.transport.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	// 响应为gzip压缩时包装body自动解压
	if resp.Header.Get("Content-Encoding") == "gzip" {
		resp.Body = &gzipReadCloser{source: resp.Body}
		resp.Header.Del("Content-Encoding")
		resp.Header.Del("Content-Length")
		resp.ContentLength = -1
	}

	return resp, nil
}

// gzipReadCloser 包装Reader以提供gzip解压缩功能
type gzipReadCloser struct {
	source     io.ReadCloser
	gzipReader *gzip.Reader
}

func (grc *gzipReadCloser) Read(p []byte) (n int, err error) {
	if grc.gzipReader == nil {
		grc.gzipReader, err = gzip.NewReader(grc.source)
		if err != nil {
			return 0, err
		}
	}
	return grc.gzipReader.Read(p)
}

func (grc *gzipReadCloser) Close() error {
	if grc.gzipReader != nil {
		grc.gzipReader.Close()
	}
	return grc.source.Close()
}
