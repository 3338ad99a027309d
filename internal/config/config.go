package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config 应用配置结构
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Log          LogConfig          `mapstructure:"log"`
	Qdrant       QdrantConfig       `mapstructure:"qdrant"`
	Embedding    EmbeddingConfig    `mapstructure:"embedding"`
	LLM          LLMConfig          `mapstructure:"llm"`
	Knowledge    KnowledgeConfig    `mapstructure:"knowledge"`
	Auth         AuthConfig         `mapstructure:"auth"`
	RateLimit    RateLimitConfig    `mapstructure:"rate_limit"`
	Conversation ConversationConfig `mapstructure:"conversation"`
}

// ServerConfig HTTP 服务器配置
type ServerConfig struct {
	Port         int    `mapstructure:"port"`
	Mode         string `mapstructure:"mode"` // debug, release, test
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, /path/to/log
}

// QdrantConfig Qdrant 向量数据库配置
type QdrantConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	APIKey          string `mapstructure:"api_key"`
	Collection      string `mapstructure:"collection"`
	VectorDimension int    `mapstructure:"vector_dimension"`
	TimeoutSeconds  int    `mapstructure:"timeout_seconds"`
}

// EmbeddingConfig 嵌入服务配置。Provider 决定使用哪一家。
type EmbeddingConfig struct {
	Provider string                `mapstructure:"provider"` // gemini, openai
	Gemini   GeminiEmbeddingConfig `mapstructure:"gemini"`
	OpenAI   OpenAIEmbeddingConfig `mapstructure:"openai"`
}

// GeminiEmbeddingConfig Gemini 嵌入配置
type GeminiEmbeddingConfig struct {
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// OpenAIEmbeddingConfig OpenAI 嵌入配置
type OpenAIEmbeddingConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// LLMConfig 回答生成模型配置
type LLMConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	Model       string  `mapstructure:"model"`
	Temperature float32 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// KnowledgeConfig 知识库索引参数
type KnowledgeConfig struct {
	ChunkSize    int `mapstructure:"chunk_size"`
	ChunkOverlap int `mapstructure:"chunk_overlap"`
}

// AuthConfig 管理端认证配置
type AuthConfig struct {
	AdminUsername     string `mapstructure:"admin_username"`
	AdminPasswordHash string `mapstructure:"admin_password_hash"` // bcrypt
	JWTSecret         string `mapstructure:"jwt_secret"`
	TokenTTLMinutes   int    `mapstructure:"token_ttl_minutes"`
}

// RateLimitConfig 接口限流配置
type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

// ConversationConfig 会话持久化配置
type ConversationConfig struct {
	DBPath      string `mapstructure:"db_path"` // sqlite 文件路径，:memory: 表示内存库
	MaxMessages int    `mapstructure:"max_messages"`
}

var globalConfig *Config

// Load 加载配置
// env: 环境名称（dev, prod, test）
// configPath: 配置文件路径（可选）
func Load(env string, configPath string) (*Config, error) {
	v := viper.New()

	if configPath == "" {
		v.SetConfigName(env) // dev.yaml, prod.yaml
		v.AddConfigPath("./config")
		v.AddConfigPath("../config")
		v.AddConfigPath("../../config")
	} else {
		v.SetConfigFile(configPath)
	}

	v.SetConfigType("yaml")

	// 环境变量优先于配置文件，例如 APP_QDRANT_ENDPOINT
	v.SetEnvPrefix("APP")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyDefaults(&cfg)

	globalConfig = &cfg
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Log.OutputPath == "" {
		cfg.Log.OutputPath = "stdout"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "gemini"
	}
	if cfg.Auth.TokenTTLMinutes <= 0 {
		cfg.Auth.TokenTTLMinutes = 720
	}
	if cfg.RateLimit.RequestsPerMinute <= 0 {
		cfg.RateLimit.RequestsPerMinute = 60
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 10
	}
	if cfg.Conversation.DBPath == "" {
		cfg.Conversation.DBPath = "./data/conversations.db"
	}
	if cfg.Conversation.MaxMessages <= 0 {
		cfg.Conversation.MaxMessages = 40
	}
}

// Get 获取全局配置
func Get() *Config {
	if globalConfig == nil {
		panic("配置未初始化，请先调用 Load()")
	}
	return globalConfig
}
