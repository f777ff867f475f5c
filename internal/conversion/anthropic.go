package conversion

import (
	"encoding/json"
	"fmt"
	"strings"

	"antigravity-gateway/internal/common/errors"
	"antigravity-gateway/internal/router"
)

// Anthropic Messages协议类型

type AnthropicRequest struct {
	Model         string             `json:"model"`
	Messages      []AnthropicMessage `json:"messages"`
	System        json.RawMessage    `json:"system,omitempty"` // string或block数组
	Tools         []AnthropicTool    `json:"tools,omitempty"`
	Stream        bool               `json:"stream,omitempty"`
	MaxTokens     int                `json:"max_tokens,omitempty"`
	Temperature   *float64           `json:"temperature,omitempty"`
	TopP          *float64           `json:"top_p,omitempty"`
	TopK          *int               `json:"top_k,omitempty"`
	StopSequences []string           `json:"stop_sequences,omitempty"`
	Thinking      *AnthropicThinking `json:"thinking,omitempty"`
	Metadata      *AnthropicMetadata `json:"metadata,omitempty"`
}

type AnthropicMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"` // string或block数组
}

// AnthropicContentBlock 消息内容块，type区分变体
type AnthropicContentBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// thinking
	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`

	// image
	Source *AnthropicImageSource `json:"source,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
}

type AnthropicImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type AnthropicTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	InputSchema map[string]interface{} `json:"input_schema,omitempty"`
}

type AnthropicThinking struct {
	Type         string `json:"type"` // "enabled" | "disabled"
	BudgetTokens int    `json:"budget_tokens,omitempty"`
}

type AnthropicMetadata struct {
	UserID string `json:"user_id,omitempty"`
}

// UpstreamPayload 转换产物：v1internal内层请求与最终模型/请求类型
type UpstreamPayload struct {
	Request     map[string]interface{}
	Model       string
	RequestType string
}

// BuildFromAnthropic 将Anthropic请求转换为v1internal内层请求
func BuildFromAnthropic(req *AnthropicRequest, route *router.Route) (*UpstreamPayload, error) {
	// 客户端声明web_search工具时走联网模型
	hasWebSearch := false
	for _, t := range req.Tools {
		if t.Name == "web_search" {
			hasWebSearch = true
			break
		}
	}

	thinkingEnabled := req.Thinking != nil && req.Thinking.Type == "enabled"

	// tool_use id到name的映射，tool_result回填functionResponse.name时使用
	toolIDToName := make(map[string]string)

	contents, err := buildAnthropicContents(req.Messages, toolIDToName, thinkingEnabled)
	if err != nil {
		return nil, err
	}

	inner := map[string]interface{}{
		"contents":       contents,
		"safetySettings": defaultSafetySettings(),
	}

	if sys := buildSystemInstruction(req.System); sys != nil {
		inner["systemInstruction"] = sys
	}

	if genConfig := buildAnthropicGenerationConfig(req, hasWebSearch); len(genConfig) > 0 {
		inner["generationConfig"] = genConfig
	}

	if tools := buildAnthropicTools(req.Tools, hasWebSearch); tools != nil {
		inner["tools"] = tools
	}

	model := route.UpstreamModel
	requestType := route.RequestType
	if hasWebSearch {
		model = "gemini-2.5-flash"
		requestType = router.RequestTypeWebSearch
	} else if route.InjectGoogleSearch {
		injectGoogleSearchTool(inner)
	}

	if route.Image != nil {
		applyImageConfig(inner, route.Image)
	}

	if req.Metadata != nil && req.Metadata.UserID != "" {
		inner["sessionId"] = req.Metadata.UserID
	}

	return &UpstreamPayload{
		Request:     inner,
		Model:       model,
		RequestType: requestType,
	}, nil
}

// buildSystemInstruction system字段支持字符串或text块数组两种形态
func buildSystemInstruction(system json.RawMessage) map[string]interface{} {
	if len(system) == 0 {
		return nil
	}

	var parts []map[string]interface{}

	var text string
	if err := json.Unmarshal(system, &text); err == nil {
		if text != "" {
			parts = append(parts, map[string]interface{}{"text": text})
		}
	} else {
		var blocks []AnthropicContentBlock
		if err := json.Unmarshal(system, &blocks); err == nil {
			for _, b := range blocks {
				if b.Type == "text" && b.Text != "" {
					parts = append(parts, map[string]interface{}{"text": b.Text})
				}
			}
		}
	}

	if len(parts) == 0 {
		return nil
	}
	return map[string]interface{}{
		"role":  "user",
		"parts": parts,
	}
}

func buildAnthropicContents(messages []AnthropicMessage, toolIDToName map[string]string, thinkingEnabled bool) ([]map[string]interface{}, error) {
	contents := make([]map[string]interface{}, 0, len(messages))

	for _, msg := range messages {
		role := msg.Role
		if role == "assistant" {
			role = "model"
		}

		parts, err := buildMessageParts(msg.Content, toolIDToName)
		if err != nil {
			return nil, err
		}

		// 思考开启时，回放的assistant轮次必须以thought部分开头，
		// 缺失时补一个占位思考块，避免上游400
		if role == "model" && thinkingEnabled {
			hasThought := false
			for _, p := range parts {
				if t, ok := p["thought"].(bool); ok && t {
					hasThought = true
					break
				}
			}
			if !hasThought {
				placeholder := map[string]interface{}{
					"text":    "Thinking...",
					"thought": true,
				}
				parts = append([]map[string]interface{}{placeholder}, parts...)
			}
		}

		contents = append(contents, map[string]interface{}{
			"role":  role,
			"parts": parts,
		})
	}

	return contents, nil
}

func buildMessageParts(content json.RawMessage, toolIDToName map[string]string) ([]map[string]interface{}, error) {
	parts := make([]map[string]interface{}, 0, 4)

	// 字符串形态
	var text string
	if err := json.Unmarshal(content, &text); err == nil {
		trimmed := strings.TrimSpace(text)
		if trimmed != "" && text != "(no content)" {
			parts = append(parts, map[string]interface{}{"text": trimmed})
		}
		return parts, nil
	}

	var blocks []AnthropicContentBlock
	if err := json.Unmarshal(content, &blocks); err != nil {
		return nil, errors.NewConversionError("anthropic_request", "unsupported message content", err)
	}

	for _, block := range blocks {
		switch block.Type {
		case "text":
			if block.Text != "(no content)" && block.Text != "" {
				parts = append(parts, map[string]interface{}{"text": block.Text})
			}
		case "thinking":
			part := map[string]interface{}{
				"text":    block.Thinking,
				"thought": true,
			}
			// 签名原样透传，不验证也不重新生成
			if block.Signature != "" {
				part["thoughtSignature"] = block.Signature
			}
			parts = append(parts, part)
		case "redacted_thinking":
			// 已编辑思考块无法回放内容，只保留占位
			parts = append(parts, map[string]interface{}{
				"text":    "Thinking...",
				"thought": true,
			})
		case "image":
			if block.Source != nil && block.Source.Type == "base64" {
				parts = append(parts, map[string]interface{}{
					"inlineData": map[string]interface{}{
						"mimeType": block.Source.MediaType,
						"data":     block.Source.Data,
					},
				})
			}
		case "tool_use":
			var args interface{} = map[string]interface{}{}
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &args); err != nil {
					return nil, errors.NewConversionError("anthropic_request",
						fmt.Sprintf("invalid tool_use input for %s", block.Name), err)
				}
			}
			toolIDToName[block.ID] = block.Name
			parts = append(parts, map[string]interface{}{
				"functionCall": map[string]interface{}{
					"name": block.Name,
					"args": args,
					"id":   block.ID,
				},
			})
		case "tool_result":
			name := toolIDToName[block.ToolUseID]
			if name == "" {
				name = block.ToolUseID
			}
			var result interface{}
			if len(block.Content) > 0 {
				if err := json.Unmarshal(block.Content, &result); err != nil {
					result = string(block.Content)
				}
			}
			parts = append(parts, map[string]interface{}{
				"functionResponse": map[string]interface{}{
					"name":     name,
					"response": map[string]interface{}{"result": result},
					"id":       block.ToolUseID,
				},
			})
		}
	}

	return parts, nil
}

func buildAnthropicTools(tools []AnthropicTool, hasWebSearch bool) []map[string]interface{} {
	if len(tools) == 0 {
		return nil
	}

	if hasWebSearch {
		return []map[string]interface{}{{
			"googleSearch": map[string]interface{}{
				"enhancedContent": map[string]interface{}{
					"imageSearch": map[string]interface{}{
						"maxResultCount": 5,
					},
				},
			},
		}}
	}

	declarations := make([]map[string]interface{}, 0, len(tools))
	for _, tool := range tools {
		schema := tool.InputSchema
		if schema == nil {
			schema = map[string]interface{}{}
		}
		CleanJSONSchema(schema)
		declarations = append(declarations, map[string]interface{}{
			"name":        tool.Name,
			"description": tool.Description,
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

func buildAnthropicGenerationConfig(req *AnthropicRequest, hasWebSearch bool) map[string]interface{} {
	config := map[string]interface{}{}

	if req.Thinking != nil && req.Thinking.Type == "enabled" {
		thinkingConfig := map[string]interface{}{"includeThoughts": true}
		if req.Thinking.BudgetTokens > 0 {
			budget := req.Thinking.BudgetTokens
			// flash系列思考预算有硬上限
			if hasWebSearch || strings.Contains(req.Model, "gemini-2.5-flash") {
				if budget > flashThinkingBudgetCap {
					budget = flashThinkingBudgetCap
				}
			}
			thinkingConfig["thinkingBudget"] = budget
		}
		config["thinkingConfig"] = thinkingConfig
	}

	if req.Temperature != nil {
		config["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		config["topP"] = *req.TopP
	}
	if req.TopK != nil {
		config["topK"] = *req.TopK
	}
	if len(req.StopSequences) > 0 {
		config["stopSequences"] = req.StopSequences
	}

	config["maxOutputTokens"] = defaultMaxOutputTokens

	return config
}

// injectGoogleSearchTool 在tools中追加googleSearch（若尚未存在）
func injectGoogleSearchTool(inner map[string]interface{}) {
	tools, _ := inner["tools"].([]map[string]interface{})
	for _, t := range tools {
		if _, ok := t["googleSearch"]; ok {
			return
		}
	}
	inner["tools"] = append(tools, map[string]interface{}{
		"googleSearch": map[string]interface{}{},
	})
}

// applyImageConfig 图像生成请求不支持工具、系统提示和思考配置，
// 统一剥离后注入imageConfig
func applyImageConfig(inner map[string]interface{}, img *router.ImageConfig) {
	delete(inner, "tools")
	delete(inner, "systemInstruction")

	genConfig, _ := inner["generationConfig"].(map[string]interface{})
	if genConfig == nil {
		genConfig = map[string]interface{}{}
		inner["generationConfig"] = genConfig
	}
	delete(genConfig, "thinkingConfig")
	delete(genConfig, "responseMimeType")
	delete(genConfig, "responseModalities")

	imageConfig := map[string]interface{}{
		"aspectRatio": img.AspectRatio,
	}
	if img.ImageSize != "" {
		imageConfig["imageSize"] = img.ImageSize
	}
	genConfig["imageConfig"] = imageConfig
}
