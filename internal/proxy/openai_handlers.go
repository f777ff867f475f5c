package proxy

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"antigravity-gateway/internal/common/errors"
	"antigravity-gateway/internal/conversion"
	"antigravity-gateway/internal/upstream"
)

// handleChatCompletions OpenAI Chat Completions入口，
// 兼容Responses格式（instructions/input）自动归一
func (s *Server) handleChatCompletions(c *gin.Context) {
	scope := getScope(c)
	scope.Protocol = protocolOpenAI

	var body map[string]interface{}
	if err := c.ShouldBindJSON(&body); err != nil {
		s.renderError(c, scope, protocolOpenAI,
			errors.NewConversionError("parse_request", "invalid request body", err))
		return
	}

	conversion.NormalizeResponsesFormat(body)
	s.serveChatCompletion(c, scope, body)
}

// handleCompletions Legacy Completions入口，prompt转成单条user消息
// 后复用chat链路
func (s *Server) handleCompletions(c *gin.Context) {
	scope := getScope(c)
	scope.Protocol = protocolOpenAI

	var body map[string]interface{}
	if err := c.ShouldBindJSON(&body); err != nil {
		s.renderError(c, scope, protocolOpenAI,
			errors.NewConversionError("parse_request", "invalid request body", err))
		return
	}

	prompt := ""
	if p, ok := body["prompt"].(string); ok {
		prompt = p
	} else if arr, ok := body["prompt"].([]interface{}); ok && len(arr) > 0 {
		if p, ok := arr[0].(string); ok {
			prompt = p
		}
	}
	body["messages"] = []interface{}{
		map[string]interface{}{"role": "user", "content": prompt},
	}
	delete(body, "prompt")

	s.serveChatCompletion(c, scope, body)
}

func (s *Server) serveChatCompletion(c *gin.Context, scope *requestScope, body map[string]interface{}) {
	raw, err := json.Marshal(body)
	if err != nil {
		s.renderError(c, scope, protocolOpenAI, errors.NewInternalError("failed to re-encode request", err))
		return
	}

	var req conversion.OpenAIRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		s.renderError(c, scope, protocolOpenAI,
			errors.NewConversionError("parse_request", "invalid chat completion request", err))
		return
	}

	// 空消息列表兜底，避免上游400
	if len(req.Messages) == 0 {
		req.Messages = append(req.Messages, conversion.OpenAIMessage{
			Role:    "user",
			Content: json.RawMessage(`" "`),
		})
	}

	scope.Model = req.Model
	scope.IsStreaming = req.Stream

	route, err := s.modelRouter.Resolve(req.Model)
	if err != nil {
		s.renderError(c, scope, protocolOpenAI, err)
		return
	}
	scope.MappedModel = route.UpstreamModel

	payload, err := conversion.BuildFromOpenAI(&req, route)
	if err != nil {
		s.renderError(c, scope, protocolOpenAI, err)
		return
	}
	scope.MappedModel = payload.Model

	result, gerr := s.dispatcher.Dispatch(c.Request.Context(), payload, req.Stream)
	if gerr != nil {
		s.renderError(c, scope, protocolOpenAI, gerr)
		return
	}
	setDispatchHeaders(c, scope, result, payload.Model)

	if req.Stream {
		state := conversion.NewOpenAIStreamState(req.Model)
		s.streamPump(c, result, state.ProcessChunk, state.ForceStop)
		scope.InputTokens, scope.OutputTokens = state.Usage()
		return
	}

	resp, err := readUnaryResponse(result)
	if err != nil {
		s.renderError(c, scope, protocolOpenAI, err)
		return
	}
	if resp.UsageMetadata != nil {
		scope.InputTokens = resp.UsageMetadata.PromptTokenCount
		scope.OutputTokens = resp.UsageMetadata.CandidatesTokenCount
	}
	c.JSON(http.StatusOK, conversion.OpenAIResponse(resp, req.Model))
}

// handleListModels OpenAI模型列表：上游实时模型集合加路由表中的别名
func (s *Server) handleListModels(c *gin.Context) {
	created := time.Now().Unix()

	seen := make(map[string]bool)
	models := make([]gin.H, 0, 16)
	add := func(id string) {
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		models = append(models, gin.H{
			"id":       id,
			"object":   "model",
			"created":  created,
			"owned_by": "antigravity",
		})
	}

	for _, id := range s.availableModelIDs(c.Request.Context()) {
		add(id)
	}
	for _, alias := range s.routingAliases() {
		add(alias)
	}

	c.JSON(http.StatusOK, gin.H{
		"object": "list",
		"data":   models,
	})
}

// fetchUpstreamModels 用池内任一可用账号查询上游模型列表，
// 无账号或查询失败时返回nil
func (s *Server) fetchUpstreamModels(ctx context.Context) map[string]upstream.ModelInfo {
	acct, err := s.pool.Select("", nil)
	if err != nil {
		return nil
	}
	token, _ := acct.Credentials()
	models, err := s.upstream.FetchAvailableModels(ctx, token)
	if err != nil || len(models) == 0 {
		s.logger.Debug("upstream model list unavailable, using builtin set")
		return nil
	}
	return models
}

// availableModelIDs 上游实时模型名集合，获取失败时退回内置集合
func (s *Server) availableModelIDs(ctx context.Context) []string {
	models := s.fetchUpstreamModels(ctx)
	if models == nil {
		return upstreamModelIDs()
	}
	ids := make([]string, 0, len(models))
	for id := range models {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// upstreamModelIDs 内置的上游基础模型集合，上游列表不可用时兜底
func upstreamModelIDs() []string {
	return []string{
		"gemini-3-pro-high",
		"gemini-3-pro-low",
		"gemini-3-flash",
		"gemini-2.5-flash",
		"gemini-2.5-flash-lite",
		"gemini-1.5-pro",
		"gemini-3-pro-image",
		"gemini-3-pro-image-16x9",
		"gemini-3-pro-image-9x16",
		"gemini-3-pro-image-4k",
	}
}
