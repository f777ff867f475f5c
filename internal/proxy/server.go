package proxy

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"antigravity-gateway/internal/account"
	"antigravity-gateway/internal/common/httpclient"
	"antigravity-gateway/internal/config"
	"antigravity-gateway/internal/dispatch"
	"antigravity-gateway/internal/logger"
	"antigravity-gateway/internal/router"
	"antigravity-gateway/internal/upstream"
)

// Server 网关HTTP服务，绑定OpenAI/Anthropic/Gemini三族端点
type Server struct {
	config      *config.Config
	configMutex sync.RWMutex
	logger      *logger.Logger
	modelRouter *router.Router
	dispatcher  *dispatch.Dispatcher
	pool        *account.Pool
	upstream    *upstream.Client
	httpManager *httpclient.Manager
	engine      *gin.Engine
}

func NewServer(cfg *config.Config, log *logger.Logger, modelRouter *router.Router,
	dispatcher *dispatch.Dispatcher, pool *account.Pool, upstreamClient *upstream.Client,
	httpManager *httpclient.Manager) *Server {
	s := &Server{
		config:      cfg,
		logger:      log,
		modelRouter: modelRouter,
		dispatcher:  dispatcher,
		pool:        pool,
		upstream:    upstreamClient,
		httpManager: httpManager,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	gin.SetMode(gin.ReleaseMode)

	s.engine = gin.New()
	s.engine.Use(gin.Recovery())

	// CORS中间件
	s.engine.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization, X-Api-Key, Anthropic-Version")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	s.engine.Use(s.bodyLimitMiddleware())
	s.engine.Use(s.loggingMiddleware())

	s.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"accounts": s.pool.Size(),
		})
	})

	// OpenAI端点
	s.engine.POST("/v1/chat/completions", s.handleChatCompletions)
	s.engine.POST("/v1/completions", s.handleCompletions)
	s.engine.GET("/v1/models", s.handleListModels)

	// Anthropic端点
	s.engine.POST("/v1/messages", s.handleMessages)
	s.engine.POST("/v1/messages/count_tokens", s.handleCountTokens)

	// Gemini v1beta透传端点
	s.engine.GET("/v1beta/models", s.handleGeminiListModels)
	s.engine.GET("/v1beta/models/*action", s.handleGeminiGetModel)
	s.engine.POST("/v1beta/models/*action", s.handleGeminiGenerate)
}

// bodyLimitMiddleware 限制请求体大小，多模态请求默认上限100MB
func (s *Server) bodyLimitMiddleware() gin.HandlerFunc {
	maxBytes := int64(s.config.Server.MaxBodySizeMB) * 1024 * 1024
	if maxBytes <= 0 {
		maxBytes = int64(config.Default.Server.MaxBodySizeMB) * 1024 * 1024
	}
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}

// requestScope 单次请求的日志归集
type requestScope struct {
	RequestID    string
	Model        string
	MappedModel  string
	Protocol     string
	IsStreaming  bool
	AccountEmail string
	Attempts     int
	InputTokens  int
	OutputTokens int
	Error        string
	ErrorType    string
}

const scopeKey = "request_scope"

func getScope(c *gin.Context) *requestScope {
	if v, ok := c.Get(scopeKey); ok {
		return v.(*requestScope)
	}
	scope := &requestScope{}
	c.Set(scopeKey, scope)
	return scope
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		scope := getScope(c)
		scope.RequestID = uuid.NewString()

		c.Next()

		s.logger.LogRequest(&logger.RequestLog{
			Timestamp:     start,
			RequestID:     scope.RequestID,
			Method:        c.Request.Method,
			Path:          c.Request.URL.Path,
			StatusCode:    c.Writer.Status(),
			DurationMs:    time.Since(start).Milliseconds(),
			AttemptCount:  scope.Attempts,
			AccountEmail:  scope.AccountEmail,
			Model:         scope.Model,
			MappedModel:   scope.MappedModel,
			Protocol:      scope.Protocol,
			IsStreaming:   scope.IsStreaming,
			InputTokens:   scope.InputTokens,
			OutputTokens:  scope.OutputTokens,
			Error:         scope.Error,
			ErrorCategory: scope.ErrorType,
		})
	}
}

// Start 启动HTTP服务
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.logger.Info(fmt.Sprintf("starting gateway server on %s", addr))
	return s.engine.Run(addr)
}

// GetEngine 暴露gin引擎供测试使用
func (s *Server) GetEngine() *gin.Engine {
	return s.engine
}

// HotUpdateConfig 热更新路由规则与出站代理，不重启服务
func (s *Server) HotUpdateConfig(newConfig *config.Config) error {
	if err := config.ValidateConfig(newConfig); err != nil {
		return fmt.Errorf("invalid configuration: %v", err)
	}

	if err := s.modelRouter.Update(&newConfig.Routing); err != nil {
		return fmt.Errorf("failed to update routing rules: %v", err)
	}

	if err := s.httpManager.UpdateProxy(newConfig.Upstream.Proxy); err != nil {
		return fmt.Errorf("failed to update outbound proxy: %v", err)
	}

	s.configMutex.Lock()
	s.config.Routing = newConfig.Routing
	s.config.Upstream.Proxy = newConfig.Upstream.Proxy
	s.configMutex.Unlock()

	s.logger.Info("configuration hot update applied")
	return nil
}

// routingAliases 读取路由表中的精确映射别名，与热更新互斥
func (s *Server) routingAliases() []string {
	s.configMutex.RLock()
	defer s.configMutex.RUnlock()
	aliases := make([]string, 0, len(s.config.Routing.Exact))
	for alias := range s.config.Routing.Exact {
		aliases = append(aliases, alias)
	}
	return aliases
}
