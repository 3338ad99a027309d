package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// 上下文键
type contextKey string

const (
	// RequestIDKey 请求 ID 上下文键
	RequestIDKey contextKey = "request_id"
)

// HeaderRequestID 请求 ID 的 HTTP 头
const HeaderRequestID = "X-Request-ID"

// RequestIDMiddleware 为每个请求生成唯一的请求 ID。
// 上游已经带了 X-Request-ID 时沿用上游的值。
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.New().String()
		}

		c.Set(string(RequestIDKey), requestID)

		ctx := context.WithValue(c.Request.Context(), RequestIDKey, requestID)
		c.Request = c.Request.WithContext(ctx)

		c.Header(HeaderRequestID, requestID)

		c.Next()
	}
}

// GetRequestID 从上下文获取请求 ID
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

// GetRequestIDFromGin 从 Gin 上下文获取请求 ID
func GetRequestIDFromGin(c *gin.Context) string {
	if id, exists := c.Get(string(RequestIDKey)); exists {
		if s, ok := id.(string); ok {
			return s
		}
	}
	return ""
}
