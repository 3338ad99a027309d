package auth

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials 用户名或密码错误
var ErrInvalidCredentials = fmt.Errorf("用户名或密码错误")

// Service 管理端认证服务。
// 单管理员模型：凭据来自配置（密码存 bcrypt 哈希），登录签发 HS256 JWT。
// 登出通过进程内黑名单使令牌失效。
type Service struct {
	secretKey    []byte
	issuer       string
	username     string
	passwordHash string
	tokenTTL     time.Duration

	mu      sync.Mutex
	revoked map[string]time.Time // token -> 过期时间
}

// NewService 创建认证服务。
func NewService(secretKey, issuer, username, passwordHash string, tokenTTL time.Duration) *Service {
	if tokenTTL <= 0 {
		tokenTTL = 12 * time.Hour
	}
	return &Service{
		secretKey:    []byte(secretKey),
		issuer:       issuer,
		username:     username,
		passwordHash: passwordHash,
		tokenTTL:     tokenTTL,
		revoked:      make(map[string]time.Time),
	}
}

// TokenTTL 返回令牌有效期，供 Cookie MaxAge 使用。
func (s *Service) TokenTTL() time.Duration {
	return s.tokenTTL
}

// TokenClaims JWT 声明
type TokenClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Login 校验凭据并签发令牌。
// 凭据错误统一返回 ErrInvalidCredentials，不区分用户名错还是密码错。
func (s *Service) Login(username, password string) (string, error) {
	if username != s.username {
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(s.passwordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}

	now := time.Now()
	claims := &TokenClaims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secretKey)
	if err != nil {
		return "", fmt.Errorf("签名令牌失败: %w", err)
	}
	return signed, nil
}

// ValidateToken 验证并解析令牌。
func (s *Service) ValidateToken(tokenString string) (*TokenClaims, error) {
	if s.isRevoked(tokenString) {
		return nil, fmt.Errorf("令牌已失效")
	}

	token, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("无效的签名算法: %v", token.Header["alg"])
		}
		return s.secretKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("解析令牌失败: %w", err)
	}

	claims, ok := token.Claims.(*TokenClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("无效的令牌")
	}
	return claims, nil
}

// Logout 将令牌加入黑名单，直到其自然过期。
func (s *Service) Logout(tokenString string) {
	token, _, err := new(jwt.Parser).ParseUnverified(tokenString, &TokenClaims{})
	if err != nil {
		return
	}
	claims, ok := token.Claims.(*TokenClaims)
	if !ok || claims.ExpiresAt == nil {
		return
	}

	expiry := claims.ExpiresAt.Time
	if time.Until(expiry) <= 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked[tokenString] = expiry

	// 顺手清掉已过期的黑名单条目
	now := time.Now()
	for t, exp := range s.revoked {
		if exp.Before(now) {
			delete(s.revoked, t)
		}
	}
}

func (s *Service) isRevoked(tokenString string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.revoked[tokenString]
	if !ok {
		return false
	}
	if exp.Before(time.Now()) {
		delete(s.revoked, tokenString)
		return false
	}
	return true
}

// HashPassword 生成 bcrypt 密码哈希，供初始化配置使用。
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("生成密码哈希失败: %w", err)
	}
	return string(hash), nil
}

// ExtractTokenFromBearer 从 Bearer 令牌中提取纯令牌字符串
func ExtractTokenFromBearer(bearerToken string) string {
	const prefix = "Bearer "
	if len(bearerToken) > len(prefix) && bearerToken[:len(prefix)] == prefix {
		return bearerToken[len(prefix):]
	}
	return bearerToken
}
