package conversion

import (
	"encoding/json"
	"strings"

	"antigravity-gateway/internal/common/errors"
	"antigravity-gateway/internal/router"
)

// OpenAI Chat Completions协议类型

type OpenAIRequest struct {
	Model          string                `json:"model"`
	Messages       []OpenAIMessage       `json:"messages"`
	Tools          []OpenAITool          `json:"tools,omitempty"`
	Stream         bool                  `json:"stream,omitempty"`
	Temperature    *float64              `json:"temperature,omitempty"`
	TopP           *float64              `json:"top_p,omitempty"`
	MaxTokens      *int                  `json:"max_tokens,omitempty"`
	Stop           json.RawMessage       `json:"stop,omitempty"` // string或string数组
	ResponseFormat *OpenAIResponseFormat `json:"response_format,omitempty"`
	User           string                `json:"user,omitempty"`
}

type OpenAIMessage struct {
	Role             string           `json:"role"`
	Content          json.RawMessage  `json:"content,omitempty"` // string或parts数组
	ReasoningContent string           `json:"reasoning_content,omitempty"`
	ToolCalls        []OpenAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID       string           `json:"tool_call_id,omitempty"`
	Name             string           `json:"name,omitempty"`
}

type OpenAIContentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL *struct {
		URL string `json:"url"`
	} `json:"image_url,omitempty"`
}

type OpenAIToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type OpenAITool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string                 `json:"name"`
		Description string                 `json:"description,omitempty"`
		Parameters  map[string]interface{} `json:"parameters,omitempty"`
	} `json:"function"`
}

type OpenAIResponseFormat struct {
	Type string `json:"type"`
}

// NormalizeResponsesFormat Responses格式请求（instructions/input，无messages）
// 归一为Chat Completions格式，直接复用chat处理链路
func NormalizeResponsesFormat(body map[string]interface{}) {
	if _, hasMessages := body["messages"]; hasMessages {
		return
	}
	_, hasInstructions := body["instructions"]
	_, hasInput := body["input"]
	if !hasInstructions && !hasInput {
		return
	}

	var messages []interface{}

	if instructions, ok := body["instructions"].(string); ok && instructions != "" {
		messages = append(messages, map[string]interface{}{
			"role":    "system",
			"content": instructions,
		})
	}

	if input, ok := body["input"]; ok {
		content := ""
		if s, ok := input.(string); ok {
			content = s
		} else {
			raw, _ := json.Marshal(input)
			content = string(raw)
		}
		messages = append(messages, map[string]interface{}{
			"role":    "user",
			"content": content,
		})
	}

	body["messages"] = messages
	delete(body, "instructions")
	delete(body, "input")
}

// BuildFromOpenAI 将OpenAI请求转换为v1internal内层请求
func BuildFromOpenAI(req *OpenAIRequest, route *router.Route) (*UpstreamPayload, error) {
	toolIDToName := make(map[string]string)

	var systemParts []map[string]interface{}
	contents := make([]map[string]interface{}, 0, len(req.Messages))

	for i := range req.Messages {
		msg := &req.Messages[i]
		switch msg.Role {
		case "system", "developer":
			// 系统消息聚合进systemInstruction
			text := flattenOpenAIContent(msg.Content)
			if text != "" {
				systemParts = append(systemParts, map[string]interface{}{"text": text})
			}
		case "tool":
			name := toolIDToName[msg.ToolCallID]
			if name == "" {
				name = msg.ToolCallID
			}
			contents = append(contents, map[string]interface{}{
				"role": "user",
				"parts": []map[string]interface{}{{
					"functionResponse": map[string]interface{}{
						"name":     name,
						"response": map[string]interface{}{"result": flattenOpenAIContent(msg.Content)},
						"id":       msg.ToolCallID,
					},
				}},
			})
		case "assistant":
			parts, err := buildOpenAIAssistantParts(msg, toolIDToName)
			if err != nil {
				return nil, err
			}
			if len(parts) > 0 {
				contents = append(contents, map[string]interface{}{
					"role":  "model",
					"parts": parts,
				})
			}
		default: // user
			parts, err := buildOpenAIUserParts(msg.Content)
			if err != nil {
				return nil, err
			}
			if len(parts) > 0 {
				contents = append(contents, map[string]interface{}{
					"role":  "user",
					"parts": parts,
				})
			}
		}
	}

	inner := map[string]interface{}{
		"contents":       contents,
		"safetySettings": defaultSafetySettings(),
	}

	if len(systemParts) > 0 {
		inner["systemInstruction"] = map[string]interface{}{
			"role":  "user",
			"parts": systemParts,
		}
	}

	inner["generationConfig"] = buildOpenAIGenerationConfig(req)

	if tools := buildOpenAITools(req.Tools); tools != nil {
		inner["tools"] = tools
	}

	if route.InjectGoogleSearch {
		injectGoogleSearchTool(inner)
	}

	if route.Image != nil {
		applyImageConfig(inner, route.Image)
	}

	if req.User != "" {
		inner["sessionId"] = req.User
	}

	return &UpstreamPayload{
		Request:     inner,
		Model:       route.UpstreamModel,
		RequestType: route.RequestType,
	}, nil
}

// flattenOpenAIContent 将string或parts数组内容压平为纯文本
func flattenOpenAIContent(content json.RawMessage) string {
	if len(content) == 0 {
		return ""
	}
	var text string
	if err := json.Unmarshal(content, &text); err == nil {
		return text
	}
	var parts []OpenAIContentPart
	if err := json.Unmarshal(content, &parts); err == nil {
		var sb strings.Builder
		for _, p := range parts {
			if p.Type == "text" {
				sb.WriteString(p.Text)
			}
		}
		return sb.String()
	}
	return ""
}

func buildOpenAIUserParts(content json.RawMessage) ([]map[string]interface{}, error) {
	parts := make([]map[string]interface{}, 0, 2)

	var text string
	if err := json.Unmarshal(content, &text); err == nil {
		if strings.TrimSpace(text) != "" {
			parts = append(parts, map[string]interface{}{"text": text})
		}
		return parts, nil
	}

	var contentParts []OpenAIContentPart
	if err := json.Unmarshal(content, &contentParts); err != nil {
		return nil, errors.NewConversionError("openai_request", "unsupported message content", err)
	}

	for _, p := range contentParts {
		switch p.Type {
		case "text":
			if p.Text != "" {
				parts = append(parts, map[string]interface{}{"text": p.Text})
			}
		case "image_url":
			if p.ImageURL == nil {
				continue
			}
			mimeType, data, ok := parseDataURI(p.ImageURL.URL)
			if !ok {
				continue
			}
			parts = append(parts, map[string]interface{}{
				"inlineData": map[string]interface{}{
					"mimeType": mimeType,
					"data":     data,
				},
			})
		}
	}
	return parts, nil
}

func buildOpenAIAssistantParts(msg *OpenAIMessage, toolIDToName map[string]string) ([]map[string]interface{}, error) {
	parts := make([]map[string]interface{}, 0, 2)

	// 回放的推理内容还原为thought部分
	if msg.ReasoningContent != "" {
		parts = append(parts, map[string]interface{}{
			"text":    msg.ReasoningContent,
			"thought": true,
		})
	}

	text := flattenOpenAIContent(msg.Content)
	// 历史轮次中内联的<thinking>标签还原为thought部分
	if thinking, rest, found := splitThinkingTag(text); found {
		if thinking != "" {
			parts = append(parts, map[string]interface{}{
				"text":    thinking,
				"thought": true,
			})
		}
		text = rest
	}
	if strings.TrimSpace(text) != "" {
		parts = append(parts, map[string]interface{}{"text": text})
	}

	for _, tc := range msg.ToolCalls {
		var args interface{} = map[string]interface{}{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, errors.NewConversionError("openai_request",
					"invalid tool call arguments for "+tc.Function.Name, err)
			}
		}
		toolIDToName[tc.ID] = tc.Function.Name
		parts = append(parts, map[string]interface{}{
			"functionCall": map[string]interface{}{
				"name": tc.Function.Name,
				"args": args,
				"id":   tc.ID,
			},
		})
	}

	return parts, nil
}

// splitThinkingTag 拆出文本开头的<thinking>...</thinking>段
func splitThinkingTag(text string) (thinking, rest string, found bool) {
	const openTag, closeTag = "<thinking>", "</thinking>"
	trimmed := strings.TrimLeft(text, " \n\t")
	if !strings.HasPrefix(trimmed, openTag) {
		return "", text, false
	}
	endIdx := strings.Index(trimmed, closeTag)
	if endIdx < 0 {
		return "", text, false
	}
	thinking = strings.TrimSpace(trimmed[len(openTag):endIdx])
	rest = strings.TrimLeft(trimmed[endIdx+len(closeTag):], "\n")
	return thinking, rest, true
}

func buildOpenAITools(tools []OpenAITool) []map[string]interface{} {
	if len(tools) == 0 {
		return nil
	}

	declarations := make([]map[string]interface{}, 0, len(tools))
	for _, tool := range tools {
		if tool.Type != "function" {
			continue
		}
		schema := tool.Function.Parameters
		if schema == nil {
			schema = map[string]interface{}{}
		}
		CleanJSONSchema(schema)
		declarations = append(declarations, map[string]interface{}{
			"name":        tool.Function.Name,
			"description": tool.Function.Description,
			"parameters":  schema,
		})
	}

	if len(declarations) == 0 {
		return nil
	}
	return []map[string]interface{}{{
		"functionDeclarations": declarations,
	}}
}

func buildOpenAIGenerationConfig(req *OpenAIRequest) map[string]interface{} {
	config := map[string]interface{}{
		// 上游思考模型默认携带思考内容，客户端以<thinking>标签接收
		"thinkingConfig": map[string]interface{}{
			"includeThoughts": true,
		},
		"maxOutputTokens": defaultMaxOutputTokens,
	}

	if req.Temperature != nil {
		config["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		config["topP"] = *req.TopP
	}

	if len(req.Stop) > 0 {
		var single string
		if err := json.Unmarshal(req.Stop, &single); err == nil {
			config["stopSequences"] = []string{single}
		} else {
			var multiple []string
			if err := json.Unmarshal(req.Stop, &multiple); err == nil && len(multiple) > 0 {
				config["stopSequences"] = multiple
			}
		}
	}

	// JSON模式映射为上游结构化输出
	if req.ResponseFormat != nil &&
		(req.ResponseFormat.Type == "json_object" || req.ResponseFormat.Type == "json_schema") {
		config["responseMimeType"] = "application/json"
	}

	return config
}

// parseDataURI 解析 data:image/png;base64,xxxx 形态的内联图片
func parseDataURI(uri string) (mimeType, data string, ok bool) {
	if !strings.HasPrefix(uri, "data:") {
		return "", "", false
	}
	rest := uri[len("data:"):]
	sep := strings.Index(rest, ";base64,")
	if sep < 0 {
		return "", "", false
	}
	return rest[:sep], rest[sep+len(";base64,"):], true
}
