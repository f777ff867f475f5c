package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"antigravity-gateway/internal/common/httpclient"
	"antigravity-gateway/internal/config"
	"antigravity-gateway/internal/conversion"
)

// v1internal方法名
const (
	MethodGenerateContent       = "generateContent"
	MethodStreamGenerateContent = "streamGenerateContent"
	MethodFetchAvailableModels  = "fetchAvailableModels"
)

// Client v1internal上游客户端
type Client struct {
	manager   *httpclient.Manager
	baseURL   string
	userAgent string
}

// NewClient 构建上游客户端，代理配置通过manager支持热更新
func NewClient(cfg *config.UpstreamConfig, manager *httpclient.Manager) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = config.Default.Upstream.BaseURL
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = config.Default.Upstream.UserAgent
	}
	return &Client{
		manager:   manager,
		baseURL:   baseURL,
		userAgent: userAgent,
	}
}

// BuildEnvelope 构建v1internal请求信封。requestId每次调用重新生成
func BuildEnvelope(projectID string, payload *conversion.UpstreamPayload) map[string]interface{} {
	return map[string]interface{}{
		"project":     projectID,
		"requestId":   fmt.Sprintf("agent-%s", uuid.NewString()),
		"request":     payload.Request,
		"model":       payload.Model,
		"userAgent":   "antigravity",
		"requestType": payload.RequestType,
	}
}

// buildURL v1internal的方法以冒号拼接在基础路径后
func (c *Client) buildURL(method, queryString string) string {
	if queryString != "" {
		return fmt.Sprintf("%s:%s?%s", c.baseURL, method, queryString)
	}
	return fmt.Sprintf("%s:%s", c.baseURL, method)
}

// Call 发起一次v1internal调用。流式调用传streamGenerateContent并
// 由调用方消费SSE body，取消通过ctx传播
func (c *Client) Call(ctx context.Context, method, accessToken string, envelope map[string]interface{}, stream bool) (*http.Response, error) {
	queryString := ""
	if stream {
		queryString = "alt=sse"
	}
	url := c.buildURL(method, queryString)

	body, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("User-Agent", c.userAgent)

	return c.manager.GetClient().Do(req)
}

// ModelInfo fetchAvailableModels返回的单个模型描述
type ModelInfo struct {
	DisplayName string `json:"displayName,omitempty"`
	Description string `json:"description,omitempty"`
}

// FetchAvailableModels 查询上游可用模型，返回模型名到描述的映射。
// 请求体为空JSON对象，认证方式与生成调用一致
func (c *Client) FetchAvailableModels(ctx context.Context, accessToken string) (map[string]ModelInfo, error) {
	url := c.buildURL(MethodFetchAvailableModels, "")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader([]byte("{}")))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.manager.GetClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("upstream model list returned status %d", resp.StatusCode)
	}

	var models map[string]ModelInfo
	if err := json.NewDecoder(resp.Body).Decode(&models); err != nil {
		return nil, fmt.Errorf("failed to decode model list: %v", err)
	}
	return models, nil
}
