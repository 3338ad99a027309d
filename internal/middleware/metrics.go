package middleware

import (
	"strconv"
	"time"

	"llm-backend/internal/metrics"

	"github.com/gin-gonic/gin"
)

// MetricsMiddleware 记录每个请求的计数与耗时。
// path 维度用路由模板（/api/knowledge/:url）而不是原始路径，避免标签爆炸。
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())

		metrics.APIRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		metrics.APIRequestDuration.WithLabelValues(c.Request.Method, path).
			Observe(time.Since(start).Seconds())
	}
}
