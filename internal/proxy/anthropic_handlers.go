package proxy

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"antigravity-gateway/internal/common/errors"
	"antigravity-gateway/internal/conversion"
)

// handleMessages Anthropic Messages入口
func (s *Server) handleMessages(c *gin.Context) {
	scope := getScope(c)
	scope.Protocol = protocolAnthropic

	var req conversion.AnthropicRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.renderError(c, scope, protocolAnthropic,
			errors.NewConversionError("parse_request", "invalid messages request", err))
		return
	}

	scope.Model = req.Model
	scope.IsStreaming = req.Stream

	route, err := s.modelRouter.Resolve(req.Model)
	if err != nil {
		s.renderError(c, scope, protocolAnthropic, err)
		return
	}
	scope.MappedModel = route.UpstreamModel

	payload, err := conversion.BuildFromAnthropic(&req, route)
	if err != nil {
		s.renderError(c, scope, protocolAnthropic, err)
		return
	}
	scope.MappedModel = payload.Model

	result, gerr := s.dispatcher.Dispatch(c.Request.Context(), payload, req.Stream)
	if gerr != nil {
		s.renderError(c, scope, protocolAnthropic, gerr)
		return
	}
	setDispatchHeaders(c, scope, result, payload.Model)

	if req.Stream {
		state := conversion.NewAnthropicStreamState(req.Model)
		s.streamPump(c, result, state.ProcessChunk, state.ForceStop)
		scope.InputTokens, scope.OutputTokens = state.Usage()
		return
	}

	resp, err := readUnaryResponse(result)
	if err != nil {
		s.renderError(c, scope, protocolAnthropic, err)
		return
	}
	if resp.UsageMetadata != nil {
		scope.InputTokens = resp.UsageMetadata.PromptTokenCount
		scope.OutputTokens = resp.UsageMetadata.CandidatesTokenCount
	}
	c.JSON(http.StatusOK, conversion.AnthropicResponse(resp, req.Model))
}

// handleCountTokens token计数接口。上游无对应能力，按字符数估算，
// 保证Claude客户端的预检流程可用
func (s *Server) handleCountTokens(c *gin.Context) {
	scope := getScope(c)
	scope.Protocol = protocolAnthropic

	var req conversion.AnthropicRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.renderError(c, scope, protocolAnthropic,
			errors.NewConversionError("parse_request", "invalid count_tokens request", err))
		return
	}
	scope.Model = req.Model

	chars := len(req.System)
	for _, msg := range req.Messages {
		chars += estimateContentChars(msg.Content)
	}
	for _, tool := range req.Tools {
		chars += len(tool.Name) + len(tool.Description)
		if raw, err := json.Marshal(tool.InputSchema); err == nil {
			chars += len(raw)
		}
	}

	// 约4字符对应1个token
	tokens := chars / 4
	if tokens < 1 {
		tokens = 1
	}

	c.JSON(http.StatusOK, gin.H{"input_tokens": tokens})
}

func estimateContentChars(content json.RawMessage) int {
	var text string
	if err := json.Unmarshal(content, &text); err == nil {
		return len(text)
	}
	var blocks []conversion.AnthropicContentBlock
	if err := json.Unmarshal(content, &blocks); err != nil {
		return len(content)
	}
	total := 0
	for _, b := range blocks {
		total += len(b.Text) + len(b.Thinking) + len(b.Input) + len(b.Content)
	}
	return total
}
