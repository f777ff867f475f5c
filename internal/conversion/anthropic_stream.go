package conversion

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// AnthropicStreamState Gemini SSE到Anthropic SSE的重组状态机。
// 按上游分片到达顺序逐片转换，不缓冲整个响应
type AnthropicStreamState struct {
	clientModel string
	messageID   string

	messageStartSent bool
	messageStopSent  bool

	blockIndex int
	blockOpen  bool
	blockType  string // "text" | "thinking" | "tool_use"

	hasToolUse   bool
	inputTokens  int
	outputTokens int
}

func NewAnthropicStreamState(clientModel string) *AnthropicStreamState {
	return &AnthropicStreamState{
		clientModel: clientModel,
		messageID:   fmt.Sprintf("msg_%s", uuid.NewString()),
		blockIndex:  -1,
	}
}

// sseEvent 构造 "event: X\ndata: {...}\n\n" 帧
func sseEvent(event string, payload map[string]interface{}) []byte {
	data, _ := json.Marshal(payload)
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event, data))
}

// ProcessChunk 处理一条上游data载荷，返回待下发的Anthropic SSE帧序列
func (s *AnthropicStreamState) ProcessChunk(payload []byte) [][]byte {
	resp, err := UnwrapGeminiResponse(payload)
	if err != nil {
		return nil
	}

	var out [][]byte

	if resp.UsageMetadata != nil {
		s.inputTokens = resp.UsageMetadata.PromptTokenCount
		s.outputTokens = resp.UsageMetadata.CandidatesTokenCount
	}

	if !s.messageStartSent {
		out = append(out, s.emitMessageStart(resp))
	}

	if cand := resp.FirstCandidate(); cand != nil {
		for i := range cand.Content.Parts {
			out = append(out, s.processPart(&cand.Content.Parts[i])...)
		}
		if cand.FinishReason != "" {
			out = append(out, s.emitFinish(cand.FinishReason, resp.UsageMetadata)...)
		}
	}

	return out
}

func (s *AnthropicStreamState) emitMessageStart(resp *GeminiResponse) []byte {
	s.messageStartSent = true

	inputTokens := 0
	if resp.UsageMetadata != nil {
		inputTokens = resp.UsageMetadata.PromptTokenCount
	}

	return sseEvent("message_start", map[string]interface{}{
		"type": "message_start",
		"message": map[string]interface{}{
			"id":            s.messageID,
			"type":          "message",
			"role":          "assistant",
			"model":         s.clientModel,
			"content":       []interface{}{},
			"stop_reason":   nil,
			"stop_sequence": nil,
			"usage": map[string]interface{}{
				"input_tokens":  inputTokens,
				"output_tokens": 0,
			},
		},
	})
}

func (s *AnthropicStreamState) processPart(part *GeminiPart) [][]byte {
	var out [][]byte

	switch {
	case part.Thought:
		out = append(out, s.ensureBlock("thinking", nil)...)
		if part.Text != "" {
			out = append(out, sseEvent("content_block_delta", map[string]interface{}{
				"type":  "content_block_delta",
				"index": s.blockIndex,
				"delta": map[string]interface{}{
					"type":     "thinking_delta",
					"thinking": part.Text,
				},
			}))
		}
		// 签名随思考块尾片下发，保持原样
		if part.ThoughtSignature != "" {
			out = append(out, sseEvent("content_block_delta", map[string]interface{}{
				"type":  "content_block_delta",
				"index": s.blockIndex,
				"delta": map[string]interface{}{
					"type":      "signature_delta",
					"signature": part.ThoughtSignature,
				},
			}))
		}

	case part.FunctionCall != nil:
		s.hasToolUse = true
		id := part.FunctionCall.ID
		if id == "" {
			id = fmt.Sprintf("toolu_%s", uuid.NewString())
		}
		// 每个functionCall开启独立tool_use块
		out = append(out, s.closeBlock()...)
		out = append(out, s.ensureBlock("tool_use", map[string]interface{}{
			"type":  "tool_use",
			"id":    id,
			"name":  part.FunctionCall.Name,
			"input": map[string]interface{}{},
		})...)
		args := part.FunctionCall.Args
		if args == nil {
			args = map[string]interface{}{}
		}
		argsJSON, _ := json.Marshal(args)
		out = append(out, sseEvent("content_block_delta", map[string]interface{}{
			"type":  "content_block_delta",
			"index": s.blockIndex,
			"delta": map[string]interface{}{
				"type":         "input_json_delta",
				"partial_json": string(argsJSON),
			},
		}))
		out = append(out, s.closeBlock()...)

	case part.Text != "":
		out = append(out, s.ensureBlock("text", nil)...)
		out = append(out, sseEvent("content_block_delta", map[string]interface{}{
			"type":  "content_block_delta",
			"index": s.blockIndex,
			"delta": map[string]interface{}{
				"type": "text_delta",
				"text": part.Text,
			},
		}))
	}

	return out
}

// ensureBlock 确保当前打开的内容块类型匹配，必要时关闭旧块开启新块
func (s *AnthropicStreamState) ensureBlock(blockType string, contentBlock map[string]interface{}) [][]byte {
	if s.blockOpen && s.blockType == blockType {
		return nil
	}

	var out [][]byte
	out = append(out, s.closeBlock()...)

	s.blockIndex++
	s.blockOpen = true
	s.blockType = blockType

	if contentBlock == nil {
		switch blockType {
		case "thinking":
			contentBlock = map[string]interface{}{"type": "thinking", "thinking": ""}
		default:
			contentBlock = map[string]interface{}{"type": "text", "text": ""}
		}
	}

	out = append(out, sseEvent("content_block_start", map[string]interface{}{
		"type":          "content_block_start",
		"index":         s.blockIndex,
		"content_block": contentBlock,
	}))
	return out
}

func (s *AnthropicStreamState) closeBlock() [][]byte {
	if !s.blockOpen {
		return nil
	}
	s.blockOpen = false
	return [][]byte{sseEvent("content_block_stop", map[string]interface{}{
		"type":  "content_block_stop",
		"index": s.blockIndex,
	})}
}

func (s *AnthropicStreamState) emitFinish(finishReason string, usage *UsageMetadata) [][]byte {
	if s.messageStopSent {
		return nil
	}
	s.messageStopSent = true

	var out [][]byte
	out = append(out, s.closeBlock()...)

	outputTokens := s.outputTokens
	usageMap := map[string]interface{}{"output_tokens": outputTokens}
	if usage != nil {
		usageMap["output_tokens"] = usage.CandidatesTokenCount
		usageMap["input_tokens"] = usage.PromptTokenCount
	}

	stopReason := mapAnthropicStopReason(finishReason, s.hasToolUse)

	out = append(out, sseEvent("message_delta", map[string]interface{}{
		"type": "message_delta",
		"delta": map[string]interface{}{
			"stop_reason":   stopReason,
			"stop_sequence": nil,
		},
		"usage": usageMap,
	}))
	out = append(out, sseEvent("message_stop", map[string]interface{}{
		"type": "message_stop",
	}))
	return out
}

// Usage 返回流中最后一次出现的上游用量统计
func (s *AnthropicStreamState) Usage() (inputTokens, outputTokens int) {
	return s.inputTokens, s.outputTokens
}

// ForceStop 上游流结束但未下发finishReason时补齐终止事件，
// 保证客户端永远收到message_stop
func (s *AnthropicStreamState) ForceStop() [][]byte {
	if s.messageStopSent {
		return nil
	}
	if !s.messageStartSent {
		s.messageStopSent = true
		return nil
	}
	return s.emitFinish("", nil)
}
