package proxy

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"

	"antigravity-gateway/internal/common/errors"
	"antigravity-gateway/internal/conversion"
)

// handleGeminiListModels v1beta模型列表，优先用上游实时集合
func (s *Server) handleGeminiListModels(c *gin.Context) {
	fetched := s.fetchUpstreamModels(c.Request.Context())

	if fetched == nil {
		models := make([]gin.H, 0, 12)
		for _, id := range upstreamModelIDs() {
			models = append(models, geminiModelInfo(id))
		}
		c.JSON(http.StatusOK, gin.H{"models": models})
		return
	}

	ids := make([]string, 0, len(fetched))
	for id := range fetched {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	models := make([]gin.H, 0, len(ids))
	for _, id := range ids {
		entry := geminiModelInfo(id)
		if info := fetched[id]; info.DisplayName != "" {
			entry["displayName"] = info.DisplayName
		}
		models = append(models, entry)
	}
	c.JSON(http.StatusOK, gin.H{"models": models})
}

// handleGeminiGetModel v1beta单个模型查询
func (s *Server) handleGeminiGetModel(c *gin.Context) {
	model := strings.TrimPrefix(c.Param("action"), "/")
	if model == "" {
		c.JSON(http.StatusNotFound, geminiErrorBody(http.StatusNotFound, "model not specified"))
		return
	}
	c.JSON(http.StatusOK, geminiModelInfo(model))
}

// handleGeminiGenerate v1beta生成入口。路径形如
// /v1beta/models/<model>:generateContent，方法以冒号拼接
func (s *Server) handleGeminiGenerate(c *gin.Context) {
	scope := getScope(c)
	scope.Protocol = protocolGemini

	action := strings.TrimPrefix(c.Param("action"), "/")
	model, method, found := strings.Cut(action, ":")
	if !found {
		c.JSON(http.StatusNotFound, geminiErrorBody(http.StatusNotFound, "unknown action"))
		return
	}

	stream := false
	switch method {
	case "generateContent":
	case "streamGenerateContent":
		stream = true
	default:
		c.JSON(http.StatusNotFound, geminiErrorBody(http.StatusNotFound,
			fmt.Sprintf("unsupported method: %s", method)))
		return
	}

	scope.Model = model
	scope.IsStreaming = stream

	var inner map[string]interface{}
	if err := c.ShouldBindJSON(&inner); err != nil {
		s.renderError(c, scope, protocolGemini,
			errors.NewConversionError("parse_request", "invalid generate request", err))
		return
	}

	route, err := s.modelRouter.Resolve(model)
	if err != nil {
		s.renderError(c, scope, protocolGemini, err)
		return
	}
	scope.MappedModel = route.UpstreamModel

	// Gemini请求体已是上游格式，仅补信封
	payload := &conversion.UpstreamPayload{
		Request:     inner,
		Model:       route.UpstreamModel,
		RequestType: route.RequestType,
	}

	result, gerr := s.dispatcher.Dispatch(c.Request.Context(), payload, stream)
	if gerr != nil {
		s.renderError(c, scope, protocolGemini, gerr)
		return
	}
	setDispatchHeaders(c, scope, result, payload.Model)

	if stream {
		// 透传模式：解包response字段后原样下发
		process := func(chunk []byte) [][]byte {
			unwrapped := unwrapRawResponse(chunk)
			frame := make([]byte, 0, len(unwrapped)+8)
			frame = append(frame, []byte("data: ")...)
			frame = append(frame, unwrapped...)
			frame = append(frame, []byte("\n\n")...)
			return [][]byte{frame}
		}
		forceStop := func() [][]byte { return nil }
		s.streamPump(c, result, process, forceStop)
		return
	}

	raw, err := readRawUnaryResponse(result)
	if err != nil {
		s.renderError(c, scope, protocolGemini, err)
		return
	}
	c.Data(http.StatusOK, "application/json", raw)
}

func geminiModelInfo(id string) gin.H {
	return gin.H{
		"name":        fmt.Sprintf("models/%s", id),
		"displayName": id,
		"supportedGenerationMethods": []string{
			"generateContent",
			"streamGenerateContent",
		},
	}
}

func geminiErrorBody(code int, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
			"status":  "NOT_FOUND",
		},
	}
}

// unwrapRawResponse 剥掉v1internal的response包装，保留原始字节
func unwrapRawResponse(data []byte) []byte {
	var wrapper struct {
		Response json.RawMessage `json:"response"`
	}
	if err := json.Unmarshal(data, &wrapper); err == nil && len(wrapper.Response) > 0 {
		return wrapper.Response
	}
	return data
}
