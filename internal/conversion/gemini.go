package conversion

import (
	"encoding/json"
)

// Gemini v1internal 响应侧类型。请求侧采用map构建以保持字段灵活性，
// 响应侧用结构体解析保证字段访问安全

// GeminiPart 候选内容中的单个片段
type GeminiPart struct {
	Text             string                  `json:"text,omitempty"`
	Thought          bool                    `json:"thought,omitempty"`
	ThoughtSignature string                  `json:"thoughtSignature,omitempty"`
	FunctionCall     *GeminiFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *GeminiFunctionResponse `json:"functionResponse,omitempty"`
	InlineData       *GeminiInlineData       `json:"inlineData,omitempty"`
}

type GeminiFunctionCall struct {
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args,omitempty"`
	ID   string                 `json:"id,omitempty"`
}

type GeminiFunctionResponse struct {
	Name     string                 `json:"name"`
	Response map[string]interface{} `json:"response,omitempty"`
	ID       string                 `json:"id,omitempty"`
}

type GeminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type GeminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []GeminiPart `json:"parts,omitempty"`
}

type GeminiCandidate struct {
	Content      GeminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
	Index        int           `json:"index,omitempty"`
}

// UsageMetadata token用量统计
type UsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount,omitempty"`
	CandidatesTokenCount int `json:"candidatesTokenCount,omitempty"`
	ThoughtsTokenCount   int `json:"thoughtsTokenCount,omitempty"`
	TotalTokenCount      int `json:"totalTokenCount,omitempty"`
}

// GeminiResponse generateContent响应（已解包response字段）
type GeminiResponse struct {
	Candidates    []GeminiCandidate `json:"candidates,omitempty"`
	UsageMetadata *UsageMetadata    `json:"usageMetadata,omitempty"`
	ModelVersion  string            `json:"modelVersion,omitempty"`
	ResponseID    string            `json:"responseId,omitempty"`
}

// UnwrapGeminiResponse 解析上游响应。v1internal将标准响应包在
// response字段内，存在时先解包再解析
func UnwrapGeminiResponse(data []byte) (*GeminiResponse, error) {
	var wrapper struct {
		Response json.RawMessage `json:"response"`
	}
	if err := json.Unmarshal(data, &wrapper); err == nil && len(wrapper.Response) > 0 {
		data = wrapper.Response
	}

	var resp GeminiResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FirstCandidate 返回首个候选，缺失时返回nil
func (r *GeminiResponse) FirstCandidate() *GeminiCandidate {
	if len(r.Candidates) == 0 {
		return nil
	}
	return &r.Candidates[0]
}

// defaultSafetySettings 五类安全策略全部关闭，与上游客户端行为一致
func defaultSafetySettings() []map[string]interface{} {
	categories := []string{
		"HARM_CATEGORY_HARASSMENT",
		"HARM_CATEGORY_HATE_SPEECH",
		"HARM_CATEGORY_SEXUALLY_EXPLICIT",
		"HARM_CATEGORY_DANGEROUS_CONTENT",
		"HARM_CATEGORY_CIVIC_INTEGRITY",
	}
	settings := make([]map[string]interface{}, 0, len(categories))
	for _, c := range categories {
		settings = append(settings, map[string]interface{}{
			"category":  c,
			"threshold": "OFF",
		})
	}
	return settings
}

// 输出token上限与flash系列思考预算上限
const (
	defaultMaxOutputTokens = 64000
	flashThinkingBudgetCap = 24576
)
