package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	hash, err := HashPassword("correct-horse")
	require.NoError(t, err)
	return NewService("test-secret", "llm-backend", "admin", hash, time.Hour)
}

func TestLoginAndValidate(t *testing.T) {
	service := newTestService(t)

	token, err := service.Login("admin", "correct-horse")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := service.ValidateToken(token)
	require.NoError(t, err)
	require.Equal(t, "admin", claims.Username)
	require.Equal(t, "llm-backend", claims.Issuer)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	service := newTestService(t)

	_, err := service.Login("admin", "wrong")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = service.Login("root", "correct-horse")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLogoutRevokesToken(t *testing.T) {
	service := newTestService(t)

	token, err := service.Login("admin", "correct-horse")
	require.NoError(t, err)

	service.Logout(token)

	_, err = service.ValidateToken(token)
	require.Error(t, err)
}

func TestValidateTokenRejectsForeignSignature(t *testing.T) {
	service := newTestService(t)
	other := NewService("other-secret", "llm-backend", "admin", service.passwordHash, time.Hour)

	token, err := other.Login("admin", "correct-horse")
	require.NoError(t, err)

	_, err = service.ValidateToken(token)
	require.Error(t, err)
}

func TestExtractTokenFromBearer(t *testing.T) {
	require.Equal(t, "abc", ExtractTokenFromBearer("Bearer abc"))
	require.Equal(t, "raw-token", ExtractTokenFromBearer("raw-token"))
}

func TestRequireAdminMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	service := newTestService(t)

	router := gin.New()
	router.GET("/secure", RequireAdmin(service), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(ContextKeyUsername))
	})

	// 无令牌
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/secure", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// Bearer 头
	token, err := service.Login("admin", "correct-horse")
	require.NoError(t, err)

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/secure", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "admin", rec.Body.String())

	// Cookie
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/secure", nil)
	req.AddCookie(&http.Cookie{Name: "admin_token", Value: token})
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// 伪造令牌
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/secure", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
