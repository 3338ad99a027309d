package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"llm-backend/api"
	"llm-backend/internal/answer"
	"llm-backend/internal/auth"
	"llm-backend/internal/config"
	"llm-backend/internal/conversation"
	"llm-backend/internal/knowledge"
	"llm-backend/internal/logger"
	"llm-backend/internal/middleware"
)

func main() {
	// 0. 统一加载 .env，便于集中管理 APP_* 环境变量
	loadEnvFile()

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "dev"
	}

	// 1. 加载配置
	cfg, err := config.Load(env, "")
	if err != nil {
		fmt.Printf("加载配置失败: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath); err != nil {
		fmt.Printf("初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("应用启动中...",
		zap.String("env", env),
		zap.String("mode", cfg.Server.Mode),
	)

	// 3. 初始化向量存储
	store, err := knowledge.NewQdrantStore(knowledge.QdrantOptions{
		Endpoint:        cfg.Qdrant.Endpoint,
		APIKey:          cfg.Qdrant.APIKey,
		Collection:      cfg.Qdrant.Collection,
		VectorDimension: cfg.Qdrant.VectorDimension,
		TimeoutSeconds:  cfg.Qdrant.TimeoutSeconds,
	})
	if err != nil {
		logger.Fatal("初始化向量存储失败", zap.Error(err))
	}

	// 4. 初始化嵌入服务
	embedder, err := buildEmbedder(cfg)
	if err != nil {
		logger.Fatal("初始化嵌入服务失败", zap.Error(err))
	}
	logger.Info("嵌入服务就绪",
		zap.String("provider", embedder.GetProviderName()),
		zap.String("model", embedder.GetModel()),
	)

	// 5. 索引流水线与混合检索
	chunker := knowledge.NewChunker(cfg.Knowledge.ChunkSize, cfg.Knowledge.ChunkOverlap)
	collector := knowledge.NewHTTPCollector(nil)
	pipeline := knowledge.NewIndexingPipeline(store, collector, chunker, embedder, logger.Get())
	searcher := knowledge.NewHybridSearcher(store, embedder)

	// 6. 回答生成器
	generator, err := answer.NewGenerator(answer.Options{
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
	})
	if err != nil {
		logger.Fatal("初始化回答生成器失败", zap.Error(err))
	}

	// 7. 会话持久化
	if dir := filepath.Dir(cfg.Conversation.DBPath); cfg.Conversation.DBPath != ":memory:" && dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Fatal("创建会话数据目录失败", zap.Error(err))
		}
	}
	db, err := conversation.OpenDatabase(cfg.Conversation.DBPath)
	if err != nil {
		logger.Fatal("打开会话数据库失败", zap.Error(err))
	}
	sessions := conversation.NewService(db, cfg.Conversation.MaxMessages)
	if err := sessions.AutoMigrate(); err != nil {
		logger.Fatal("会话数据库迁移失败", zap.Error(err))
	}

	// 8. 管理端认证
	authService, err := buildAuthService(cfg, env)
	if err != nil {
		logger.Fatal("初始化认证服务失败", zap.Error(err))
	}

	// 9. 限流器
	var limiter *middleware.RateLimiter
	if cfg.RateLimit.Enabled {
		limiter = middleware.NewRateLimiter(&middleware.RateLimiterConfig{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			BurstSize:         cfg.RateLimit.Burst,
		})
		defer limiter.Stop()
	}

	// 10. 设置 Gin 模式与路由
	gin.SetMode(cfg.Server.Mode)
	router := api.SetupRouter(cfg, &api.Dependencies{
		Store:     store,
		Pipeline:  pipeline,
		Searcher:  searcher,
		Generator: generator,
		Sessions:  sessions,
		Auth:      authService,
		DB:        db,
		Limiter:   limiter,
	})

	// 11. 创建 HTTP 服务器
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("HTTP 服务器启动", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP 服务器启动失败", zap.Error(err))
		}
	}()

	// 12. 优雅关闭
	gracefulShutdown(server)
}

// buildEmbedder 按配置选择嵌入服务实现
func buildEmbedder(cfg *config.Config) (knowledge.EmbeddingProvider, error) {
	switch cfg.Embedding.Provider {
	case "gemini":
		return knowledge.NewGeminiEmbeddingProvider(knowledge.GeminiOptions{
			APIKey:         cfg.Embedding.Gemini.APIKey,
			Model:          cfg.Embedding.Gemini.Model,
			BaseURL:        cfg.Embedding.Gemini.BaseURL,
			TimeoutSeconds: cfg.Embedding.Gemini.TimeoutSeconds,
		})
	case "openai":
		return knowledge.NewOpenAIEmbeddingProvider(cfg.Embedding.OpenAI.APIKey, cfg.Embedding.OpenAI.Model)
	default:
		return nil, fmt.Errorf("不支持的嵌入服务: %s", cfg.Embedding.Provider)
	}
}

// buildAuthService 初始化管理端认证，生产模式禁止弱默认凭据
func buildAuthService(cfg *config.Config, env string) (*auth.Service, error) {
	isProd := cfg.Server.Mode == "release" || env == "prod" || env == "production"

	secret := cfg.Auth.JWTSecret
	if secret == "" {
		if isProd {
			return nil, fmt.Errorf("auth.jwt_secret 未配置，生产环境禁止使用默认密钥")
		}
		secret = "default_jwt_secret_key_change_in_production"
		logger.Warn("auth.jwt_secret 未配置，已回退为开发默认值，请在生产环境设置强随机密钥")
	}

	username := cfg.Auth.AdminUsername
	if username == "" {
		username = "admin"
	}

	passwordHash := cfg.Auth.AdminPasswordHash
	if passwordHash == "" {
		if isProd {
			return nil, fmt.Errorf("auth.admin_password_hash 未配置")
		}
		hash, err := auth.HashPassword("admin")
		if err != nil {
			return nil, err
		}
		passwordHash = hash
		logger.Warn("auth.admin_password_hash 未配置，已回退为开发默认密码 admin")
	}

	ttl := time.Duration(cfg.Auth.TokenTTLMinutes) * time.Minute
	return auth.NewService(secret, "llm-backend", username, passwordHash, ttl), nil
}

func gracefulShutdown(server *http.Server) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("收到关闭信号，正在优雅关闭...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("HTTP 服务器关闭失败", zap.Error(err))
		return
	}
	logger.Info("HTTP 服务器已关闭")
}

// loadEnvFile 依次尝试加载当前目录及上级目录的 .env 文件
func loadEnvFile() {
	if path := resolveEnvPath(); path != "" {
		if err := godotenv.Load(path); err != nil {
			fmt.Printf("加载环境变量文件 %s 失败: %v\n", path, err)
		}
	}
}

// resolveEnvPath 从当前工作目录与可执行文件目录向上查找 .env
func resolveEnvPath() string {
	seen := make(map[string]struct{})
	var candidates []string
	traverse := func(start string) {
		dir := filepath.Clean(start)
		for i := 0; i < 8; i++ {
			if dir == "" || dir == string(filepath.Separator) || dir == "." {
				break
			}
			path := filepath.Join(dir, ".env")
			if _, ok := seen[path]; !ok {
				seen[path] = struct{}{}
				candidates = append(candidates, path)
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}

	if wd, err := os.Getwd(); err == nil {
		traverse(wd)
	}
	if exe, err := os.Executable(); err == nil {
		traverse(filepath.Dir(exe))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
