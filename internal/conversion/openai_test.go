package conversion

import (
	"encoding/json"
	"testing"
)

// TestBuildFromOpenAISystemInstruction system/developer消息聚合为systemInstruction
func TestBuildFromOpenAISystemInstruction(t *testing.T) {
	req := &OpenAIRequest{
		Model: "gpt-4o",
		Messages: []OpenAIMessage{
			{Role: "system", Content: json.RawMessage(`"你是助手"`)},
			{Role: "developer", Content: json.RawMessage(`"遵守规则"`)},
			{Role: "user", Content: json.RawMessage(`"你好"`)},
		},
	}

	payload, err := BuildFromOpenAI(req, agentRoute("gemini-3-pro-high"))
	if err != nil {
		t.Fatalf("BuildFromOpenAI failed: %v", err)
	}

	sys := payload.Request["systemInstruction"].(map[string]interface{})
	parts := sys["parts"].([]map[string]interface{})
	if len(parts) != 2 {
		t.Fatalf("systemInstruction parts = %d, want 2", len(parts))
	}
	if parts[0]["text"] != "你是助手" || parts[1]["text"] != "遵守规则" {
		t.Errorf("systemInstruction内容异常: %v", parts)
	}

	contents := contentsOf(t, payload)
	if len(contents) != 1 || contents[0]["role"] != "user" {
		t.Errorf("系统消息不应进入contents: %v", contents)
	}
}

// TestNormalizeResponsesFormat Responses格式归一为Chat Completions
func TestNormalizeResponsesFormat(t *testing.T) {
	tests := []struct {
		name      string
		body      map[string]interface{}
		wantRoles []string
	}{
		{
			name: "instructions与input都存在",
			body: map[string]interface{}{
				"model":        "gpt-4o",
				"instructions": "你是助手",
				"input":        "你好",
			},
			wantRoles: []string{"system", "user"},
		},
		{
			name: "仅input",
			body: map[string]interface{}{
				"model": "gpt-4o",
				"input": "你好",
			},
			wantRoles: []string{"user"},
		},
		{
			name: "已有messages时不处理",
			body: map[string]interface{}{
				"model":        "gpt-4o",
				"instructions": "忽略我",
				"messages": []interface{}{
					map[string]interface{}{"role": "user", "content": "hi"},
				},
			},
			wantRoles: []string{"user"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			NormalizeResponsesFormat(tt.body)

			messages, ok := tt.body["messages"].([]interface{})
			if !ok {
				t.Fatalf("messages缺失: %v", tt.body)
			}
			if len(messages) != len(tt.wantRoles) {
				t.Fatalf("messages长度 = %d, want %d", len(messages), len(tt.wantRoles))
			}
			for i, want := range tt.wantRoles {
				msg := messages[i].(map[string]interface{})
				if msg["role"] != want {
					t.Errorf("messages[%d].role = %v, want %s", i, msg["role"], want)
				}
			}
		})
	}
}

// TestSplitThinkingTag 历史assistant消息里内联的思考标签拆分
func TestSplitThinkingTag(t *testing.T) {
	tests := []struct {
		name         string
		text         string
		wantThinking string
		wantRest     string
		wantFound    bool
	}{
		{"带标签", "<thinking>\n推理过程\n</thinking>\n正式回答", "推理过程", "正式回答", true},
		{"无标签", "普通回答", "", "普通回答", false},
		{"前导空白", "\n  <thinking>想法</thinking>\n结论", "想法", "结论", true},
		{"未闭合标签按原文处理", "<thinking>没有闭合", "", "<thinking>没有闭合", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			thinking, rest, found := splitThinkingTag(tt.text)
			if found != tt.wantFound {
				t.Fatalf("found = %v, want %v", found, tt.wantFound)
			}
			if thinking != tt.wantThinking {
				t.Errorf("thinking = %q, want %q", thinking, tt.wantThinking)
			}
			if rest != tt.wantRest {
				t.Errorf("rest = %q, want %q", rest, tt.wantRest)
			}
		})
	}
}

// TestAssistantThinkingReplay 回放的assistant消息还原thought部分
func TestAssistantThinkingReplay(t *testing.T) {
	req := &OpenAIRequest{
		Model: "gpt-4o",
		Messages: []OpenAIMessage{
			{Role: "user", Content: json.RawMessage(`"问题"`)},
			{Role: "assistant", Content: json.RawMessage(`"<thinking>\n先推理\n</thinking>\n再回答"`)},
		},
	}

	payload, err := BuildFromOpenAI(req, agentRoute("gemini-3-pro-high"))
	if err != nil {
		t.Fatalf("BuildFromOpenAI failed: %v", err)
	}

	parts := partsOf(t, contentsOf(t, payload)[1])
	if len(parts) != 2 {
		t.Fatalf("model轮次parts = %d, want 2", len(parts))
	}
	if parts[0]["thought"] != true || parts[0]["text"] != "先推理" {
		t.Errorf("thought部分异常: %v", parts[0])
	}
	if parts[1]["text"] != "再回答" {
		t.Errorf("text部分异常: %v", parts[1])
	}
}

// TestReasoningContentReplay reasoning_content字段优先还原为thought部分
func TestReasoningContentReplay(t *testing.T) {
	req := &OpenAIRequest{
		Model: "gpt-4o",
		Messages: []OpenAIMessage{
			{Role: "user", Content: json.RawMessage(`"问题"`)},
			{Role: "assistant", ReasoningContent: "推理内容", Content: json.RawMessage(`"回答"`)},
		},
	}

	payload, err := BuildFromOpenAI(req, agentRoute("gemini-3-pro-high"))
	if err != nil {
		t.Fatalf("BuildFromOpenAI failed: %v", err)
	}

	parts := partsOf(t, contentsOf(t, payload)[1])
	if parts[0]["thought"] != true || parts[0]["text"] != "推理内容" {
		t.Errorf("reasoning_content应还原为thought部分: %v", parts[0])
	}
}

// TestOpenAIToolCallRoundTrip assistant工具调用与tool角色回包
func TestOpenAIToolCallRoundTrip(t *testing.T) {
	toolCall := OpenAIToolCall{ID: "call_7", Type: "function"}
	toolCall.Function.Name = "get_weather"
	toolCall.Function.Arguments = `{"city": "Tokyo"}`

	req := &OpenAIRequest{
		Model: "gpt-4o",
		Messages: []OpenAIMessage{
			{Role: "user", Content: json.RawMessage(`"查天气"`)},
			{Role: "assistant", ToolCalls: []OpenAIToolCall{toolCall}},
			{Role: "tool", ToolCallID: "call_7", Content: json.RawMessage(`"雨，18度"`)},
		},
	}

	payload, err := BuildFromOpenAI(req, agentRoute("gemini-3-pro-high"))
	if err != nil {
		t.Fatalf("BuildFromOpenAI failed: %v", err)
	}

	contents := contentsOf(t, payload)

	call := partsOf(t, contents[1])[0]["functionCall"].(map[string]interface{})
	if call["name"] != "get_weather" || call["id"] != "call_7" {
		t.Errorf("functionCall = %v", call)
	}

	resp := partsOf(t, contents[2])[0]["functionResponse"].(map[string]interface{})
	if resp["name"] != "get_weather" {
		t.Errorf("functionResponse.name应由tool_call_id映射, got %v", resp["name"])
	}
	result := resp["response"].(map[string]interface{})
	if result["result"] != "雨，18度" {
		t.Errorf("response.result = %v", result["result"])
	}
}

// TestDataURIImage 用户消息中的data URI图片转inlineData
func TestDataURIImage(t *testing.T) {
	req := &OpenAIRequest{
		Model: "gpt-4o",
		Messages: []OpenAIMessage{
			{Role: "user", Content: json.RawMessage(`[
				{"type": "text", "text": "看这张图"},
				{"type": "image_url", "image_url": {"url": "data:image/png;base64,aGVsbG8="}},
				{"type": "image_url", "image_url": {"url": "https://example.com/a.png"}}
			]`)},
		},
	}

	payload, err := BuildFromOpenAI(req, agentRoute("gemini-3-pro-high"))
	if err != nil {
		t.Fatalf("BuildFromOpenAI failed: %v", err)
	}

	parts := partsOf(t, contentsOf(t, payload)[0])
	// 远程URL图片不支持，应被跳过
	if len(parts) != 2 {
		t.Fatalf("parts = %d, want 2", len(parts))
	}
	inline := parts[1]["inlineData"].(map[string]interface{})
	if inline["mimeType"] != "image/png" || inline["data"] != "aGVsbG8=" {
		t.Errorf("inlineData = %v", inline)
	}
}

// TestOpenAIGenerationConfig stop参数与JSON模式映射
func TestOpenAIGenerationConfig(t *testing.T) {
	temp := 0.7
	req := &OpenAIRequest{
		Model:          "gpt-4o",
		Temperature:    &temp,
		Stop:           json.RawMessage(`["END", "STOP"]`),
		ResponseFormat: &OpenAIResponseFormat{Type: "json_object"},
		Messages: []OpenAIMessage{
			{Role: "user", Content: json.RawMessage(`"hi"`)},
		},
	}

	payload, err := BuildFromOpenAI(req, agentRoute("gemini-3-pro-high"))
	if err != nil {
		t.Fatalf("BuildFromOpenAI failed: %v", err)
	}

	genConfig := payload.Request["generationConfig"].(map[string]interface{})
	if genConfig["temperature"] != 0.7 {
		t.Errorf("temperature = %v", genConfig["temperature"])
	}
	stops := genConfig["stopSequences"].([]string)
	if len(stops) != 2 || stops[0] != "END" {
		t.Errorf("stopSequences = %v", stops)
	}
	if genConfig["responseMimeType"] != "application/json" {
		t.Errorf("responseMimeType = %v", genConfig["responseMimeType"])
	}

	thinkingConfig := genConfig["thinkingConfig"].(map[string]interface{})
	if thinkingConfig["includeThoughts"] != true {
		t.Error("includeThoughts应默认开启")
	}
}

// TestParseDataURI data URI解析边界
func TestParseDataURI(t *testing.T) {
	tests := []struct {
		name     string
		uri      string
		wantMime string
		wantOK   bool
	}{
		{"合法PNG", "data:image/png;base64,abc123", "image/png", true},
		{"合法JPEG", "data:image/jpeg;base64,xyz", "image/jpeg", true},
		{"非data协议", "https://example.com/a.png", "", false},
		{"缺base64段", "data:image/png,abc", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mime, _, ok := parseDataURI(tt.uri)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if mime != tt.wantMime {
				t.Errorf("mime = %q, want %q", mime, tt.wantMime)
			}
		})
	}
}
