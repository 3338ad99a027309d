package auth

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"llm-backend/api/handlers/common"
	"llm-backend/internal/auth"
)

const cookieName = "admin_token"

// Handler 管理员认证接口。
type Handler struct {
	service *auth.Service
}

func NewHandler(service *auth.Service) *Handler {
	return &Handler{service: service}
}

// LoginRequest 登录请求体。
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login 校验管理员凭证，签发令牌并写入 Cookie。
// POST /api/auth/login
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, common.ErrorResponse{
			Success: false,
			Message: "参数错误: " + err.Error(),
		})
		return
	}

	token, err := h.service.Login(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, common.ErrorResponse{
				Success: false,
				Code:    "INVALID_CREDENTIALS",
				Message: "用户名或密码错误",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, common.ErrorResponse{
			Success: false,
			Message: "登录失败: " + err.Error(),
		})
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(cookieName, token, int(h.service.TokenTTL().Seconds()), "/", "", false, true)
	c.JSON(http.StatusOK, common.APIResponse{
		Success: true,
		Data:    gin.H{"token": token},
	})
}

// Logout 吊销当前令牌并清除 Cookie。
// POST /api/auth/logout
func (h *Handler) Logout(c *gin.Context) {
	token := auth.ExtractTokenFromBearer(c.GetHeader("Authorization"))
	if token == "" {
		token, _ = c.Cookie(cookieName)
	}
	if token != "" {
		h.service.Logout(token)
	}

	c.SetCookie(cookieName, "", -1, "/", "", false, true)
	c.JSON(http.StatusOK, common.APIResponse{Success: true, Message: "已退出登录"})
}
