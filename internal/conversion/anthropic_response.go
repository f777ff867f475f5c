package conversion

import (
	"fmt"

	"github.com/google/uuid"
)

// AnthropicResponse 转换为客户端的非流式Messages响应
func AnthropicResponse(resp *GeminiResponse, clientModel string) map[string]interface{} {
	content := make([]map[string]interface{}, 0, 4)
	hasToolUse := false
	finishReason := ""

	if cand := resp.FirstCandidate(); cand != nil {
		finishReason = cand.FinishReason
		for _, part := range cand.Content.Parts {
			switch {
			case part.Thought:
				block := map[string]interface{}{
					"type":     "thinking",
					"thinking": part.Text,
				}
				if part.ThoughtSignature != "" {
					block["signature"] = part.ThoughtSignature
				}
				content = append(content, block)
			case part.FunctionCall != nil:
				hasToolUse = true
				id := part.FunctionCall.ID
				if id == "" {
					id = fmt.Sprintf("toolu_%s", uuid.NewString())
				}
				args := part.FunctionCall.Args
				if args == nil {
					args = map[string]interface{}{}
				}
				content = append(content, map[string]interface{}{
					"type":  "tool_use",
					"id":    id,
					"name":  part.FunctionCall.Name,
					"input": args,
				})
			case part.InlineData != nil:
				content = append(content, map[string]interface{}{
					"type": "image",
					"source": map[string]interface{}{
						"type":       "base64",
						"media_type": part.InlineData.MimeType,
						"data":       part.InlineData.Data,
					},
				})
			case part.Text != "":
				content = append(content, map[string]interface{}{
					"type": "text",
					"text": part.Text,
				})
			}
		}
	}

	// 仅含工具调用而无文本是合法响应，不得按错误处理
	stopReason := mapAnthropicStopReason(finishReason, hasToolUse)

	usage := map[string]interface{}{
		"input_tokens":  0,
		"output_tokens": 0,
	}
	if resp.UsageMetadata != nil {
		usage["input_tokens"] = resp.UsageMetadata.PromptTokenCount
		usage["output_tokens"] = resp.UsageMetadata.CandidatesTokenCount
	}

	return map[string]interface{}{
		"id":            fmt.Sprintf("msg_%s", uuid.NewString()),
		"type":          "message",
		"role":          "assistant",
		"model":         clientModel,
		"content":       content,
		"stop_reason":   stopReason,
		"stop_sequence": nil,
		"usage":         usage,
	}
}

func mapAnthropicStopReason(finishReason string, hasToolUse bool) string {
	if hasToolUse {
		return "tool_use"
	}
	switch finishReason {
	case "MAX_TOKENS":
		return "max_tokens"
	case "STOP", "":
		return "end_turn"
	default:
		return "end_turn"
	}
}
