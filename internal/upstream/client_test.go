package upstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"antigravity-gateway/internal/common/httpclient"
	"antigravity-gateway/internal/config"
	"antigravity-gateway/internal/conversion"
)

// TestBuildEnvelope 信封字段完整且requestId每次重新生成
func TestBuildEnvelope(t *testing.T) {
	payload := &conversion.UpstreamPayload{
		Request:     map[string]interface{}{"contents": []interface{}{}},
		Model:       "gemini-3-pro-high",
		RequestType: "agent",
	}

	env := BuildEnvelope("project-123", payload)

	if env["project"] != "project-123" {
		t.Errorf("project = %v", env["project"])
	}
	if env["model"] != "gemini-3-pro-high" {
		t.Errorf("model = %v", env["model"])
	}
	if env["userAgent"] != "antigravity" {
		t.Errorf("userAgent = %v", env["userAgent"])
	}
	if env["requestType"] != "agent" {
		t.Errorf("requestType = %v", env["requestType"])
	}

	id1 := env["requestId"].(string)
	if !strings.HasPrefix(id1, "agent-") {
		t.Errorf("requestId = %q, want agent-前缀", id1)
	}
	id2 := BuildEnvelope("project-123", payload)["requestId"].(string)
	if id1 == id2 {
		t.Error("requestId不应复用")
	}
}

// TestBuildURL 方法名以冒号拼接，流式附带alt=sse
func TestBuildURL(t *testing.T) {
	c := &Client{baseURL: "https://cloudcode-pa.googleapis.com/v1internal"}

	tests := []struct {
		name     string
		method   string
		query    string
		expected string
	}{
		{
			"非流式",
			MethodGenerateContent, "",
			"https://cloudcode-pa.googleapis.com/v1internal:generateContent",
		},
		{
			"流式",
			MethodStreamGenerateContent, "alt=sse",
			"https://cloudcode-pa.googleapis.com/v1internal:streamGenerateContent?alt=sse",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.buildURL(tt.method, tt.query); got != tt.expected {
				t.Errorf("buildURL = %q, want %q", got, tt.expected)
			}
		})
	}
}

// TestFetchAvailableModels 模型列表查询走与生成调用一致的认证与路径
func TestFetchAvailableModels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, ":fetchAvailableModels") {
			t.Errorf("path = %q", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer tok-models" {
			t.Errorf("Authorization = %q", auth)
		}
		body, _ := io.ReadAll(r.Body)
		if strings.TrimSpace(string(body)) != "{}" {
			t.Errorf("请求体 = %q, want {}", body)
		}
		fmt.Fprint(w, `{"gemini-3-pro-high": {"displayName": "Gemini 3 Pro High"}, "gemini-2.5-flash": {}}`)
	}))
	defer server.Close()

	manager, err := httpclient.NewManager(nil)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	client := NewClient(&config.UpstreamConfig{BaseURL: server.URL + "/v1internal"}, manager)

	models, err := client.FetchAvailableModels(context.Background(), "tok-models")
	if err != nil {
		t.Fatalf("FetchAvailableModels failed: %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("模型数 = %d, want 2", len(models))
	}
	if models["gemini-3-pro-high"].DisplayName != "Gemini 3 Pro High" {
		t.Errorf("displayName = %q", models["gemini-3-pro-high"].DisplayName)
	}
}

// TestFetchAvailableModelsUpstreamError 非2xx状态返回错误
func TestFetchAvailableModelsUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"code": 500}}`, http.StatusInternalServerError)
	}))
	defer server.Close()

	manager, err := httpclient.NewManager(nil)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	client := NewClient(&config.UpstreamConfig{BaseURL: server.URL + "/v1internal"}, manager)

	if _, err := client.FetchAvailableModels(context.Background(), "tok-models"); err == nil {
		t.Fatal("应返回错误")
	}
}
