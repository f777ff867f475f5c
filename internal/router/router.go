package router

import (
	"regexp"
	"strings"
	"sync/atomic"

	"antigravity-gateway/internal/common/errors"
	"antigravity-gateway/internal/config"
)

// 请求类型，决定上游requestType字段
const (
	RequestTypeAgent     = "agent"
	RequestTypeWebSearch = "web_search"
	RequestTypeImageGen  = "image_gen"
)

// ImageConfig 图像生成参数，由模型名后缀解析得到
type ImageConfig struct {
	AspectRatio string // "16:9" 等
	ImageSize   string // "4K"，为空表示默认尺寸
}

// Route 路由结果
type Route struct {
	// 客户端原始模型名
	ClientModel string
	// 上游模型名（后缀已剥离）
	UpstreamModel string
	// 请求类型：agent | web_search | image_gen
	RequestType string
	// 是否注入googleSearch工具
	InjectGoogleSearch bool
	// 图像生成配置，仅image_gen时非nil
	Image *ImageConfig
}

// compiledRules 编译后的路由规则快照，整体原子替换以支持热更新
type compiledRules struct {
	exact            map[string]string
	series           []config.SeriesRule
	rules            []compiledRegexRule
	allowPassthrough bool
}

type compiledRegexRule struct {
	pattern     *regexp.Regexp
	targetModel string
}

// Router 模型路由器：精确映射 → 系列关键字 → 正则规则 → 透传
type Router struct {
	rules atomic.Value // *compiledRules
}

// NewRouter 编译路由配置构建路由器
func NewRouter(cfg *config.RoutingConfig) (*Router, error) {
	r := &Router{}
	if err := r.Update(cfg); err != nil {
		return nil, err
	}
	return r, nil
}

// Update 重新编译规则并原子替换，供配置热更新调用
func (r *Router) Update(cfg *config.RoutingConfig) error {
	compiled := &compiledRules{
		exact:            make(map[string]string),
		allowPassthrough: true,
	}

	if cfg != nil {
		for k, v := range cfg.Exact {
			compiled.exact[k] = v
		}
		compiled.series = cfg.Series
		if cfg.AllowPassthrough != nil {
			compiled.allowPassthrough = *cfg.AllowPassthrough
		}
		for _, rule := range cfg.Rules {
			pattern, err := regexp.Compile(rule.SourcePattern)
			if err != nil {
				return err
			}
			compiled.rules = append(compiled.rules, compiledRegexRule{
				pattern:     pattern,
				targetModel: rule.TargetModel,
			})
		}
	}
	if len(compiled.series) == 0 {
		compiled.series = config.DefaultSeriesRules()
	}

	r.rules.Store(compiled)
	return nil
}

// Resolve 将客户端模型名解析为上游路由。
// 匹配顺序：精确表 → 系列关键字（整词边界）→ 正则规则（声明序）→ 透传。
// 禁用透传时未命中返回ModelNotResolved，不做猜测
func (r *Router) Resolve(clientModel string) (*Route, error) {
	rules := r.rules.Load().(*compiledRules)

	// -online后缀表达联网意图，剥离后参与路由
	baseModel := strings.TrimSuffix(clientModel, "-online")
	onlineSuffix := baseModel != clientModel

	mapped, ok := r.mapModel(rules, baseModel)
	if !ok {
		return nil, errors.NewModelNotResolvedError(clientModel)
	}

	return buildRoute(clientModel, mapped, onlineSuffix), nil
}

func (r *Router) mapModel(rules *compiledRules, model string) (string, bool) {
	// 1. 精确匹配
	if target, ok := rules.exact[model]; ok {
		return target, true
	}

	// 2. 系列关键字，要求整词边界避免子串误命中
	lower := strings.ToLower(model)
	for _, rule := range rules.series {
		if containsKeywordToken(lower, strings.ToLower(rule.Keyword)) {
			return rule.TargetModel, true
		}
	}

	// 3. 用户正则规则，按声明顺序取首个命中
	for _, rule := range rules.rules {
		if rule.pattern.MatchString(model) {
			return rule.targetModel, true
		}
	}

	// 4. 透传
	if rules.allowPassthrough {
		return model, true
	}
	return "", false
}

// containsKeywordToken 判断关键字是否以完整token形式出现在模型名中。
// 关键字两侧不能紧邻字母或数字，防止"gpt"命中"antigravity-gpx"
// 这类无关名称中的子串
func containsKeywordToken(model, keyword string) bool {
	if keyword == "" {
		return false
	}
	for start := 0; ; {
		idx := strings.Index(model[start:], keyword)
		if idx < 0 {
			return false
		}
		idx += start
		end := idx + len(keyword)

		leftOK := idx == 0 || !isAlphaNum(model[idx-1])
		rightOK := end == len(model) || !isAlphaNum(model[end])
		if leftOK && rightOK {
			return true
		}
		start = idx + 1
	}
}

func isAlphaNum(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// buildRoute 在模型映射之后确定请求类型与图像/联网配置
func buildRoute(clientModel, mappedModel string, onlineSuffix bool) *Route {
	// 图像生成模型优先判断，上游模型名固定为基础名
	if strings.HasPrefix(mappedModel, "gemini-3-pro-image") {
		return &Route{
			ClientModel:   clientModel,
			UpstreamModel: "gemini-3-pro-image",
			RequestType:   RequestTypeImageGen,
			Image:         parseImageConfig(clientModel),
		}
	}

	mappedModel = strings.TrimSuffix(mappedModel, "-online")

	// 高质量模型自动启用联网检索
	highQuality := mappedModel == "gemini-2.5-flash" ||
		mappedModel == "gemini-1.5-pro" ||
		strings.HasPrefix(mappedModel, "gemini-1.5-pro-") ||
		strings.HasPrefix(mappedModel, "gemini-2.5-flash-")

	networking := onlineSuffix || highQuality

	requestType := RequestTypeAgent
	if networking {
		requestType = RequestTypeWebSearch
	}

	return &Route{
		ClientModel:        clientModel,
		UpstreamModel:      mappedModel,
		RequestType:        requestType,
		InjectGoogleSearch: networking,
	}
}

// parseImageConfig 从模型名后缀解析宽高比与尺寸
func parseImageConfig(modelName string) *ImageConfig {
	cfg := &ImageConfig{AspectRatio: "1:1"}

	switch {
	case strings.Contains(modelName, "-16x9"):
		cfg.AspectRatio = "16:9"
	case strings.Contains(modelName, "-9x16"):
		cfg.AspectRatio = "9:16"
	case strings.Contains(modelName, "-4x3"):
		cfg.AspectRatio = "4:3"
	case strings.Contains(modelName, "-3x4"):
		cfg.AspectRatio = "3:4"
	case strings.Contains(modelName, "-1x1"):
		cfg.AspectRatio = "1:1"
	}

	if strings.Contains(modelName, "-4k") || strings.Contains(modelName, "-hd") {
		cfg.ImageSize = "4K"
	}

	return cfg
}
