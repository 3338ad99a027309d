package api

import (
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	authHandlers "llm-backend/api/handlers/auth"
	chatHandlers "llm-backend/api/handlers/chat"
	knowledgeHandlers "llm-backend/api/handlers/knowledge"
	"llm-backend/internal/answer"
	"llm-backend/internal/auth"
	"llm-backend/internal/config"
	"llm-backend/internal/conversation"
	"llm-backend/internal/knowledge"
	"llm-backend/internal/logger"
	"llm-backend/internal/middleware"
)

// Dependencies 路由层依赖，由组合根（cmd/server）装配。
type Dependencies struct {
	Store     knowledge.VectorStore
	Pipeline  *knowledge.IndexingPipeline
	Searcher  *knowledge.HybridSearcher
	Generator *answer.Generator
	Sessions  *conversation.Service
	Auth      *auth.Service
	DB        *gorm.DB
	Limiter   *middleware.RateLimiter
}

// SetupRouter 设置并返回 Gin 路由。
// 检索与问答接口公开但限流，知识源管理与索引接口需要管理员令牌。
func SetupRouter(cfg *config.Config, deps *Dependencies) *gin.Engine {
	router := gin.New()

	// 全局中间件
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(RequestLogger())
	router.Use(CORS())
	router.Use(middleware.MetricsMiddleware())

	// 公开端点（不需要认证）
	router.GET("/healthz", HealthCheck())
	router.GET("/readyz", ReadinessCheck(deps.DB))

	// Prometheus 指标端点
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authHandler := authHandlers.NewHandler(deps.Auth)
	sourcesHandler := knowledgeHandlers.NewSourcesHandler(deps.Store)
	indexHandler := knowledgeHandlers.NewIndexHandler(deps.Store, deps.Pipeline)
	searchHandler := knowledgeHandlers.NewSearchHandler(deps.Searcher)
	chatHandler := chatHandlers.NewHandler(deps.Searcher, deps.Generator, deps.Sessions)

	apiGroup := router.Group("/api")
	{
		apiGroup.POST("/auth/login", authHandler.Login)
		apiGroup.POST("/auth/logout", authHandler.Logout)

		// 公开检索与问答，限流保护
		public := apiGroup.Group("")
		if cfg.RateLimit.Enabled && deps.Limiter != nil {
			public.Use(middleware.RateLimitMiddleware(deps.Limiter))
		}
		{
			public.POST("/search", searchHandler.Search)
			public.POST("/chat", chatHandler.Chat)
		}

		// 管理接口
		admin := apiGroup.Group("")
		admin.Use(auth.RequireAdmin(deps.Auth))
		{
			admin.GET("/knowledge", sourcesHandler.List)
			admin.POST("/knowledge", sourcesHandler.Add)
			admin.DELETE("/knowledge", sourcesHandler.Delete)
			admin.POST("/index", indexHandler.Run)
		}
	}

	return router
}

// RequestLogger 请求日志中间件
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		logger.Get().Info("HTTP Request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
			zap.String("request_id", middleware.GetRequestIDFromGin(c)),
		)
	}
}

// CORS 跨域中间件
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		allowedOrigins := getEnvList("CORS_ALLOW_ORIGINS")
		origin := c.GetHeader("Origin")
		switch {
		case len(allowedOrigins) == 0:
			// 开发缺省：全部放行
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && stringInSlice(origin, allowedOrigins):
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		default:
			// 未匹配则不设置 Allow-Origin，浏览器将拦截
		}

		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")

		allowedHeaders := defaultIfEmpty(
			getEnvList("CORS_ALLOW_HEADERS"),
			[]string{
				"Content-Type", "Content-Length", "Accept-Encoding", "Authorization",
				"Accept", "Origin", "Cache-Control", "X-Requested-With",
			},
		)
		c.Writer.Header().Set("Access-Control-Allow-Headers", strings.Join(allowedHeaders, ", "))

		allowedMethods := defaultIfEmpty(
			getEnvList("CORS_ALLOW_METHODS"),
			[]string{"POST", "OPTIONS", "GET", "DELETE"},
		)
		c.Writer.Header().Set("Access-Control-Allow-Methods", strings.Join(allowedMethods, ", "))
		c.Writer.Header().Set("Access-Control-Max-Age", "600")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// HealthCheck 健康检查
func HealthCheck() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "healthy",
			"service": "llm-backend",
		})
	}
}

// ReadinessCheck 就绪检查，包含会话数据库连通性
func ReadinessCheck(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if db != nil {
			sqlDB, err := db.DB()
			if err != nil {
				c.JSON(503, gin.H{
					"status": "not_ready",
					"reason": "database connection error",
				})
				return
			}
			if err := sqlDB.Ping(); err != nil {
				c.JSON(503, gin.H{
					"status": "not_ready",
					"reason": "database ping failed",
				})
				return
			}
		}

		c.JSON(200, gin.H{
			"status":   "ready",
			"database": "connected",
		})
	}
}

// getEnvList 读取逗号分隔的环境变量列表
func getEnvList(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	var res []string
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			res = append(res, v)
		}
	}
	return res
}

// stringInSlice 判断字符串是否存在
func stringInSlice(target string, list []string) bool {
	for _, v := range list {
		if v == target {
			return true
		}
	}
	return false
}

// defaultIfEmpty 返回非空列表或默认值
func defaultIfEmpty(list []string, def []string) []string {
	if len(list) == 0 {
		return def
	}
	return list
}
