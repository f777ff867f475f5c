package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"antigravity-gateway/internal/account"
	"antigravity-gateway/internal/common/httpclient"
	"antigravity-gateway/internal/config"
	"antigravity-gateway/internal/dispatch"
	"antigravity-gateway/internal/logger"
	"antigravity-gateway/internal/router"
	"antigravity-gateway/internal/upstream"
)

type noopRefresher struct{}

func (noopRefresher) Refresh(ctx context.Context, a *account.Account) error {
	return fmt.Errorf("refresh not available in tests")
}

// newTestServer 构建完整服务，上游指向给定URL
func newTestServer(t *testing.T, upstreamURL string, cfg *config.Config) *Server {
	t.Helper()
	return newTestServerWithLogger(t, upstreamURL, cfg, logger.NewTestLogger())
}

func newTestServerWithLogger(t *testing.T, upstreamURL string, cfg *config.Config, log *logger.Logger) *Server {
	t.Helper()

	if cfg == nil {
		cfg = &config.Config{}
	}
	config.ApplyDefaults(cfg)

	store, err := account.NewStore(filepath.Join(t.TempDir(), "accounts.db"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if err := store.CreateAccount(&account.Account{
		ID:          1,
		Email:       "pool@example.com",
		AccessToken: "tok-pool",
		TokenExpiry: time.Now().Add(time.Hour),
		ProjectID:   "project-test",
	}); err != nil {
		t.Fatalf("种子账号写入失败: %v", err)
	}

	pool, err := account.NewPool(store, 5*time.Minute)
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}

	manager, err := httpclient.NewManager(nil)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	modelRouter, err := router.NewRouter(&cfg.Routing)
	if err != nil {
		t.Fatalf("NewRouter failed: %v", err)
	}

	client := upstream.NewClient(&config.UpstreamConfig{
		BaseURL: upstreamURL + "/v1internal",
	}, manager)

	dispatcher := dispatch.NewDispatcher(pool, client, noopRefresher{}, log,
		2, 30*time.Second, 5*time.Minute)

	return NewServer(cfg, log, modelRouter, dispatcher, pool, client, manager)
}

func doJSON(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.GetEngine().ServeHTTP(w, req)
	return w
}

// TestHealthEndpoint 健康检查返回账号数
func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t, "http://127.0.0.1:0", nil)

	w := doJSON(t, s, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if body["status"] != "ok" || body["accounts"] != float64(1) {
		t.Errorf("body = %v", body)
	}
}

// TestListModels 模型列表包含基础模型与路由别名
func TestListModels(t *testing.T) {
	cfg := &config.Config{}
	cfg.Routing.Exact = map[string]string{"my-alias": "gemini-3-pro-low"}
	s := newTestServer(t, "http://127.0.0.1:0", cfg)

	w := doJSON(t, s, http.MethodGet, "/v1/models", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var body struct {
		Object string `json:"object"`
		Data   []struct {
			ID      string `json:"id"`
			OwnedBy string `json:"owned_by"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if body.Object != "list" {
		t.Errorf("object = %q", body.Object)
	}

	ids := make(map[string]bool)
	for _, m := range body.Data {
		ids[m.ID] = true
		if m.OwnedBy != "antigravity" {
			t.Errorf("owned_by = %q", m.OwnedBy)
		}
	}
	for _, want := range []string{"gemini-3-pro-high", "gemini-3-pro-image", "my-alias"} {
		if !ids[want] {
			t.Errorf("模型列表缺少 %s", want)
		}
	}
}

// TestCountTokens 按字符数估算token
func TestCountTokens(t *testing.T) {
	s := newTestServer(t, "http://127.0.0.1:0", nil)

	body := `{"model": "claude-sonnet-4-5", "messages": [{"role": "user", "content": "` +
		strings.Repeat("a", 80) + `"}]}`
	w := doJSON(t, s, http.MethodPost, "/v1/messages/count_tokens", body)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if resp["input_tokens"] != float64(20) {
		t.Errorf("input_tokens = %v, want 20", resp["input_tokens"])
	}
}

// TestChatCompletionEndToEnd 非流式chat completion全链路
func TestChatCompletionEndToEnd(t *testing.T) {
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, ":generateContent") {
			t.Errorf("上游路径异常: %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer tok-pool" {
			t.Errorf("Authorization = %q", auth)
		}

		var envelope map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
			t.Errorf("信封解析失败: %v", err)
		}
		if envelope["model"] != "gemini-3-pro-high" {
			t.Errorf("上游model = %v", envelope["model"])
		}
		if envelope["project"] != "project-test" {
			t.Errorf("上游project = %v", envelope["project"])
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"response": {"candidates": [{"content": {"parts": [{"text": "回答"}]}, "finishReason": "STOP"}], "usageMetadata": {"promptTokenCount": 3, "candidatesTokenCount": 2, "totalTokenCount": 5}}}`)
	}))
	defer upstreamSrv.Close()

	s := newTestServer(t, upstreamSrv.URL, nil)

	w := doJSON(t, s, http.MethodPost, "/v1/chat/completions",
		`{"model": "gpt-4o", "messages": [{"role": "user", "content": "你好"}]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	if got := w.Header().Get("X-Mapped-Model"); got != "gemini-3-pro-high" {
		t.Errorf("X-Mapped-Model = %q", got)
	}
	if got := w.Header().Get("X-Account-Email"); got != "pool@example.com" {
		t.Errorf("X-Account-Email = %q", got)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if resp["model"] != "gpt-4o" {
		t.Errorf("响应model = %v, 应回显客户端模型名", resp["model"])
	}
	choice := resp["choices"].([]interface{})[0].(map[string]interface{})
	message := choice["message"].(map[string]interface{})
	if message["content"] != "回答" {
		t.Errorf("content = %v", message["content"])
	}
}

// TestMessagesStreamEndToEnd 流式messages全链路，上游断流时补齐终止事件
func TestMessagesStreamEndToEnd(t *testing.T) {
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("alt") != "sse" {
			t.Errorf("流式调用缺少alt=sse: %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: {"response": {"candidates": [{"content": {"parts": [{"text": "第一片"}]}}]}}`+"\n\n")
		fmt.Fprint(w, `data: {"response": {"candidates": [{"content": {"parts": [{"text": "第二片"}]}}]}}`+"\n\n")
	}))
	defer upstreamSrv.Close()

	s := newTestServer(t, upstreamSrv.URL, nil)

	w := doJSON(t, s, http.MethodPost, "/v1/messages",
		`{"model": "claude-sonnet-4-5", "stream": true, "max_tokens": 1024, "messages": [{"role": "user", "content": "hi"}]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("Content-Type = %q", ct)
	}

	out := w.Body.String()
	for _, event := range []string{"message_start", "content_block_start", "content_block_delta", "message_stop"} {
		if !strings.Contains(out, "event: "+event) {
			t.Errorf("流缺少事件 %s:\n%s", event, out)
		}
	}
	if !strings.Contains(out, "第一片") || !strings.Contains(out, "第二片") {
		t.Errorf("流缺少文本分片:\n%s", out)
	}
}

// TestModelNotResolved 禁用透传时未知模型返回404
func TestModelNotResolved(t *testing.T) {
	disabled := false
	cfg := &config.Config{}
	cfg.Routing.AllowPassthrough = &disabled
	s := newTestServer(t, "http://127.0.0.1:0", cfg)

	w := doJSON(t, s, http.MethodPost, "/v1/chat/completions",
		`{"model": "unknown-model-x", "messages": [{"role": "user", "content": "hi"}]}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	errObj := resp["error"].(map[string]interface{})
	if errObj["type"] != "model_not_resolved" {
		t.Errorf("error.type = %v", errObj["type"])
	}
}

// TestAnthropicErrorEnvelope Anthropic端点使用其原生错误信封
func TestAnthropicErrorEnvelope(t *testing.T) {
	disabled := false
	cfg := &config.Config{}
	cfg.Routing.AllowPassthrough = &disabled
	s := newTestServer(t, "http://127.0.0.1:0", cfg)

	w := doJSON(t, s, http.MethodPost, "/v1/messages",
		`{"model": "unknown-model-x", "max_tokens": 16, "messages": [{"role": "user", "content": "hi"}]}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if resp["type"] != "error" {
		t.Errorf("响应type = %v", resp["type"])
	}
	errObj := resp["error"].(map[string]interface{})
	if errObj["type"] != "not_found_error" {
		t.Errorf("error.type = %v", errObj["type"])
	}
}

// TestListModelsFromUpstream 上游模型列表可用时替代内置集合
func TestListModelsFromUpstream(t *testing.T) {
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, ":fetchAvailableModels") {
			t.Errorf("上游路径异常: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"gemini-3-pro-high": {}, "gemini-test-preview": {"displayName": "Test Preview"}}`)
	}))
	defer upstreamSrv.Close()

	cfg := &config.Config{}
	cfg.Routing.Exact = map[string]string{"my-alias": "gemini-3-pro-low"}
	s := newTestServer(t, upstreamSrv.URL, cfg)

	w := doJSON(t, s, http.MethodGet, "/v1/models", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var body struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	ids := make(map[string]bool)
	for _, m := range body.Data {
		ids[m.ID] = true
	}
	for _, want := range []string{"gemini-3-pro-high", "gemini-test-preview", "my-alias"} {
		if !ids[want] {
			t.Errorf("模型列表缺少 %s", want)
		}
	}
	// 内置集合独有的模型不应出现，证明走的是上游实时列表
	if ids["gemini-1.5-pro"] {
		t.Error("上游列表可用时不应混入内置模型")
	}

	// v1beta列表同样走上游集合，并带displayName
	w = doJSON(t, s, http.MethodGet, "/v1beta/models", "")
	if w.Code != http.StatusOK {
		t.Fatalf("v1beta status = %d", w.Code)
	}
	out := w.Body.String()
	if !strings.Contains(out, "models/gemini-test-preview") || !strings.Contains(out, "Test Preview") {
		t.Errorf("v1beta模型列表异常:\n%s", out)
	}
}

// TestHotUpdateRoutingAliases 热更新后的路由别名出现在模型列表中
func TestHotUpdateRoutingAliases(t *testing.T) {
	s := newTestServer(t, "http://127.0.0.1:0", nil)

	newCfg := &config.Config{}
	config.ApplyDefaults(newCfg)
	newCfg.Routing.Exact = map[string]string{"hot-alias": "gemini-3-pro-low"}
	if err := s.HotUpdateConfig(newCfg); err != nil {
		t.Fatalf("HotUpdateConfig failed: %v", err)
	}

	w := doJSON(t, s, http.MethodGet, "/v1/models", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "hot-alias") {
		t.Errorf("热更新别名未生效:\n%s", w.Body.String())
	}
}

// TestRequestLogUsageCounts 请求日志记录上游用量统计
func TestRequestLogUsageCounts(t *testing.T) {
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"response": {"candidates": [{"content": {"parts": [{"text": "回答"}]}, "finishReason": "STOP"}], "usageMetadata": {"promptTokenCount": 3, "candidatesTokenCount": 2, "totalTokenCount": 5}}}`)
	}))
	defer upstreamSrv.Close()

	log, err := logger.NewLogger(logger.LogConfig{
		Level:           "error",
		LogRequestTypes: "all",
		LogDirectory:    t.TempDir(),
	})
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	t.Cleanup(func() { log.Close() })

	s := newTestServerWithLogger(t, upstreamSrv.URL, nil, log)

	w := doJSON(t, s, http.MethodPost, "/v1/chat/completions",
		`{"model": "gpt-4o", "messages": [{"role": "user", "content": "你好"}]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	// 日志写入是异步的，轮询等待落库
	deadline := time.Now().Add(2 * time.Second)
	for {
		logs, total, err := log.GetLogs(10, 0, false)
		if err != nil {
			t.Fatalf("GetLogs failed: %v", err)
		}
		if total >= 1 {
			entry := logs[0]
			if entry.InputTokens != 3 || entry.OutputTokens != 2 {
				t.Errorf("用量 = %d/%d, want 3/2", entry.InputTokens, entry.OutputTokens)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("请求日志未落库")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
