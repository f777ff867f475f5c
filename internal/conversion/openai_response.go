package conversion

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// OpenAIResponse 转换为非流式chat.completion响应
func OpenAIResponse(resp *GeminiResponse, clientModel string) map[string]interface{} {
	var textBuilder strings.Builder
	var thinkingBuilder strings.Builder
	var toolCalls []map[string]interface{}
	finishReason := ""

	if cand := resp.FirstCandidate(); cand != nil {
		finishReason = cand.FinishReason
		for _, part := range cand.Content.Parts {
			switch {
			case part.Thought:
				thinkingBuilder.WriteString(part.Text)
			case part.FunctionCall != nil:
				id := part.FunctionCall.ID
				if id == "" {
					id = fmt.Sprintf("call_%s", uuid.NewString())
				}
				args := part.FunctionCall.Args
				if args == nil {
					args = map[string]interface{}{}
				}
				argsJSON := marshalJSONString(args)
				toolCalls = append(toolCalls, map[string]interface{}{
					"id":   id,
					"type": "function",
					"function": map[string]interface{}{
						"name":      part.FunctionCall.Name,
						"arguments": argsJSON,
					},
				})
			case part.Text != "":
				textBuilder.WriteString(part.Text)
			}
		}
	}

	// 思考内容以<thinking>标签内联暴露给OpenAI客户端
	content := textBuilder.String()
	if thinkingBuilder.Len() > 0 {
		content = fmt.Sprintf("<thinking>\n%s\n</thinking>\n%s", thinkingBuilder.String(), content)
	}

	message := map[string]interface{}{
		"role":    "assistant",
		"content": content,
	}
	if len(toolCalls) > 0 {
		message["tool_calls"] = toolCalls
		// 纯工具调用响应content置空是合法的
		if content == "" {
			message["content"] = nil
		}
	}

	usage := map[string]interface{}{
		"prompt_tokens":     0,
		"completion_tokens": 0,
		"total_tokens":      0,
	}
	if resp.UsageMetadata != nil {
		usage["prompt_tokens"] = resp.UsageMetadata.PromptTokenCount
		usage["completion_tokens"] = resp.UsageMetadata.CandidatesTokenCount
		usage["total_tokens"] = resp.UsageMetadata.TotalTokenCount
	}

	return map[string]interface{}{
		"id":      fmt.Sprintf("chatcmpl-%s", uuid.NewString()),
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   clientModel,
		"choices": []map[string]interface{}{{
			"index":         0,
			"message":       message,
			"finish_reason": mapOpenAIFinishReason(finishReason, len(toolCalls) > 0),
		}},
		"usage": usage,
	}
}

func mapOpenAIFinishReason(finishReason string, hasToolCalls bool) string {
	if hasToolCalls {
		return "tool_calls"
	}
	switch finishReason {
	case "MAX_TOKENS":
		return "length"
	default:
		return "stop"
	}
}

func marshalJSONString(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}
