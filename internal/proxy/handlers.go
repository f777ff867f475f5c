package proxy

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"antigravity-gateway/internal/common/errors"
	"antigravity-gateway/internal/conversion"
	"antigravity-gateway/internal/dispatch"
)

// 协议族标识
const (
	protocolOpenAI    = "openai"
	protocolAnthropic = "anthropic"
	protocolGemini    = "gemini"
)

// renderError 将网关错误映射为客户端协议的原生错误信封
func (s *Server) renderError(c *gin.Context, scope *requestScope, protocol string, err error) {
	gerr := errors.AsGatewayError(err)

	scope.Error = gerr.Message
	scope.ErrorType = string(gerr.Type)

	// 客户端断开按正常取消处理，不下发错误体
	if gerr.Type == errors.ErrorTypeStreamAborted {
		c.Abort()
		return
	}

	status := gerr.HTTPStatus()
	switch protocol {
	case protocolAnthropic:
		c.JSON(status, gerr.ToAnthropicBody())
	case protocolGemini:
		c.JSON(status, gin.H{
			"error": gin.H{
				"code":    status,
				"message": gerr.Message,
				"status":  string(gerr.Type),
			},
		})
	default:
		c.JSON(status, gerr.ToOpenAIBody())
	}
}

// setDispatchHeaders 回传实际使用的账号与映射后的模型
func setDispatchHeaders(c *gin.Context, scope *requestScope, result *dispatch.Result, mappedModel string) {
	scope.AccountEmail = result.Account.Email
	scope.Attempts = result.Attempts
	c.Header("X-Account-Email", result.Account.Email)
	c.Header("X-Mapped-Model", mappedModel)
}

// readUnaryResponse 读取并解包非流式上游响应
func readUnaryResponse(result *dispatch.Result) (*conversion.GeminiResponse, error) {
	defer result.Finish()
	data, err := io.ReadAll(result.Response.Body)
	result.Response.Body.Close()
	if err != nil {
		return nil, errors.NewTransientError("failed to read upstream response", err)
	}
	resp, err := conversion.UnwrapGeminiResponse(data)
	if err != nil {
		return nil, errors.NewConversionError("unwrap_response", "invalid upstream response", err)
	}
	return resp, nil
}

// readRawUnaryResponse 读取非流式响应并剥离信封，不解析内层结构
func readRawUnaryResponse(result *dispatch.Result) ([]byte, error) {
	defer result.Finish()
	data, err := io.ReadAll(result.Response.Body)
	result.Response.Body.Close()
	if err != nil {
		return nil, errors.NewTransientError("failed to read upstream response", err)
	}
	return unwrapRawResponse(data), nil
}

// streamPump SSE转发循环：逐片转换并带背压下发，不缓冲整个响应。
// 客户端断开时通过请求context取消上游调用
func (s *Server) streamPump(c *gin.Context, result *dispatch.Result,
	process func(payload []byte) [][]byte, forceStop func() [][]byte) {

	defer result.Finish()
	defer result.Response.Body.Close()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)

	flusher, canFlush := c.Writer.(http.Flusher)
	clientGone := c.Request.Context().Done()

	writeFrames := func(frames [][]byte) bool {
		for _, frame := range frames {
			if _, err := c.Writer.Write(frame); err != nil {
				return false
			}
		}
		if len(frames) > 0 && canFlush {
			flusher.Flush()
		}
		return true
	}

	scanner := conversion.NewSSEScanner(result.Response.Body)
	for {
		select {
		case <-clientGone:
			return
		default:
		}

		payload, done, ok := scanner.Next()
		if !ok || done {
			break
		}
		if !writeFrames(process(payload)) {
			return
		}
	}

	// 上游未下发终止标记时补齐，保证客户端收到完整终止序列
	writeFrames(forceStop())
}
