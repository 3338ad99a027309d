package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ContextKeyUsername Gin 上下文中的管理员用户名键
const ContextKeyUsername = "auth_username"

// RequireAdmin 管理端接口的认证中间件。
// 令牌可以放在 Authorization: Bearer 头或 admin_token Cookie 里。
func RequireAdmin(service *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ""
		if header := c.GetHeader("Authorization"); header != "" {
			token = ExtractTokenFromBearer(header)
		} else if cookie, err := c.Cookie("admin_token"); err == nil {
			token = cookie
		}

		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "缺少认证令牌",
				"code":  "UNAUTHORIZED",
			})
			return
		}

		claims, err := service.ValidateToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "认证令牌无效或已过期",
				"code":  "UNAUTHORIZED",
			})
			return
		}

		c.Set(ContextKeyUsername, claims.Username)
		c.Next()
	}
}
