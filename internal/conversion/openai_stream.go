package conversion

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OpenAIStreamState Gemini SSE到OpenAI chunk流的重组状态机
type OpenAIStreamState struct {
	clientModel string
	id          string
	created     int64

	roleSent      bool
	thinkingOpen  bool
	hasToolCalls  bool
	toolCallIndex int
	finishSent    bool
	inputTokens   int
	outputTokens  int
}

func NewOpenAIStreamState(clientModel string) *OpenAIStreamState {
	return &OpenAIStreamState{
		clientModel: clientModel,
		id:          fmt.Sprintf("chatcmpl-%s", uuid.NewString()),
		created:     time.Now().Unix(),
	}
}

// chunk 构造一条chat.completion.chunk SSE帧
func (s *OpenAIStreamState) chunk(delta map[string]interface{}, finishReason interface{}, usage map[string]interface{}) []byte {
	payload := map[string]interface{}{
		"id":      s.id,
		"object":  "chat.completion.chunk",
		"created": s.created,
		"model":   s.clientModel,
		"choices": []map[string]interface{}{{
			"index":         0,
			"delta":         delta,
			"finish_reason": finishReason,
		}},
	}
	if usage != nil {
		payload["usage"] = usage
	}
	data, _ := json.Marshal(payload)
	return []byte(fmt.Sprintf("data: %s\n\n", data))
}

// ProcessChunk 处理一条上游data载荷，返回待下发的OpenAI SSE帧序列
func (s *OpenAIStreamState) ProcessChunk(payload []byte) [][]byte {
	resp, err := UnwrapGeminiResponse(payload)
	if err != nil {
		return nil
	}

	var out [][]byte

	if resp.UsageMetadata != nil {
		s.inputTokens = resp.UsageMetadata.PromptTokenCount
		s.outputTokens = resp.UsageMetadata.CandidatesTokenCount
	}

	if !s.roleSent {
		s.roleSent = true
		out = append(out, s.chunk(map[string]interface{}{"role": "assistant", "content": ""}, nil, nil))
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

func (s *OpenAIStreamState) processPart(part *GeminiPart) [][]byte {
	var out [][]byte

	switch {
	case part.Thought:
		// 思考内容以<thinking>标签内联下发
		if !s.thinkingOpen {
			s.thinkingOpen = true
			out = append(out, s.chunk(map[string]interface{}{"content": "<thinking>\n"}, nil, nil))
		}
		if part.Text != "" {
			out = append(out, s.chunk(map[string]interface{}{"content": part.Text}, nil, nil))
		}

	case part.FunctionCall != nil:
		out = append(out, s.closeThinking()...)
		s.hasToolCalls = true
		id := part.FunctionCall.ID
		if id == "" {
			id = fmt.Sprintf("call_%s", uuid.NewString())
		}
		args := part.FunctionCall.Args
		if args == nil {
			args = map[string]interface{}{}
		}
		argsJSON, _ := json.Marshal(args)
		out = append(out, s.chunk(map[string]interface{}{
			"tool_calls": []map[string]interface{}{{
				"index": s.toolCallIndex,
				"id":    id,
				"type":  "function",
				"function": map[string]interface{}{
					"name":      part.FunctionCall.Name,
					"arguments": string(argsJSON),
				},
			}},
		}, nil, nil))
		s.toolCallIndex++

	case part.Text != "":
		out = append(out, s.closeThinking()...)
		out = append(out, s.chunk(map[string]interface{}{"content": part.Text}, nil, nil))
	}

	return out
}

func (s *OpenAIStreamState) closeThinking() [][]byte {
	if !s.thinkingOpen {
		return nil
	}
	s.thinkingOpen = false
	return [][]byte{s.chunk(map[string]interface{}{"content": "\n</thinking>\n"}, nil, nil)}
}

// emitFinish 下发终止chunk。用量仅随终止chunk携带，不得丢弃
func (s *OpenAIStreamState) emitFinish(finishReason string, usage *UsageMetadata) [][]byte {
	if s.finishSent {
		return nil
	}
	s.finishSent = true

	var out [][]byte
	out = append(out, s.closeThinking()...)

	var usageMap map[string]interface{}
	if usage != nil {
		usageMap = map[string]interface{}{
			"prompt_tokens":     usage.PromptTokenCount,
			"completion_tokens": usage.CandidatesTokenCount,
			"total_tokens":      usage.TotalTokenCount,
		}
	}

	out = append(out, s.chunk(map[string]interface{}{},
		mapOpenAIFinishReason(finishReason, s.hasToolCalls), usageMap))
	out = append(out, []byte("data: [DONE]\n\n"))
	return out
}

// Usage 返回流中最后一次出现的上游用量统计
func (s *OpenAIStreamState) Usage() (inputTokens, outputTokens int) {
	return s.inputTokens, s.outputTokens
}

// ForceStop 上游流结束但未下发finishReason时补齐终止chunk
func (s *OpenAIStreamState) ForceStop() [][]byte {
	if s.finishSent {
		return nil
	}
	return s.emitFinish("", nil)
}
