package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// RateLimiterConfig 限流配置
type RateLimiterConfig struct {
	RequestsPerMinute int           // 每分钟请求数
	BurstSize         int           // 突发容量
	CleanupInterval   time.Duration // 清理间隔
}

// DefaultRateLimiterConfig 默认配置
func DefaultRateLimiterConfig() *RateLimiterConfig {
	return &RateLimiterConfig{
		RequestsPerMinute: 60,
		BurstSize:         10,
		CleanupInterval:   5 * time.Minute,
	}
}

// clientState 单个客户端的令牌桶状态
type clientState struct {
	tokens     float64
	lastUpdate time.Time
}

// RateLimiter 按客户端标识限流的令牌桶限流器。
type RateLimiter struct {
	config  *RateLimiterConfig
	clients map[string]*clientState
	mu      sync.Mutex
	stopCh  chan struct{}
}

// NewRateLimiter 创建限流器并启动后台清理协程。
func NewRateLimiter(config *RateLimiterConfig) *RateLimiter {
	if config == nil {
		config = DefaultRateLimiterConfig()
	}
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = 60
	}
	if config.BurstSize <= 0 {
		config.BurstSize = 10
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}

	rl := &RateLimiter{
		config:  config,
		clients: make(map[string]*clientState),
		stopCh:  make(chan struct{}),
	}

	go rl.cleanup()

	return rl
}

// Allow 检查是否允许该客户端再发一个请求。
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	state, exists := rl.clients[key]

	if !exists {
		rl.clients[key] = &clientState{
			tokens:     float64(rl.config.BurstSize - 1),
			lastUpdate: now,
		}
		return true
	}

	// 令牌桶：按流逝时间补充令牌，封顶为突发容量
	refillPerSecond := float64(rl.config.RequestsPerMinute) / 60.0
	elapsed := now.Sub(state.lastUpdate).Seconds()
	state.tokens += elapsed * refillPerSecond
	if state.tokens > float64(rl.config.BurstSize) {
		state.tokens = float64(rl.config.BurstSize)
	}
	state.lastUpdate = now

	if state.tokens < 1 {
		return false
	}

	state.tokens--
	return true
}

// cleanup 定期清理长时间不活跃的客户端状态
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			now := time.Now()
			for key, state := range rl.clients {
				if now.Sub(state.lastUpdate) > 10*time.Minute {
					delete(rl.clients, key)
				}
			}
			rl.mu.Unlock()
		case <-rl.stopCh:
			return
		}
	}
}

// Stop 停止限流器
func (rl *RateLimiter) Stop() {
	close(rl.stopCh)
}

// RateLimitMiddleware 按客户端 IP 限流的 Gin 中间件。
func RateLimitMiddleware(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "请求过于频繁，请稍后重试",
				"code":        "RATE_LIMIT_EXCEEDED",
				"retry_after": 1,
			})
			return
		}

		c.Next()
	}
}
