package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/sirupsen/logrus"
)

// Gin 上下文中使用的 key
const (
	ContextUserID   = "user_id"
	ContextDeviceID = "device_id"
	ContextGuest    = "guest"
)

// UserID 返回 Auth/GuestGate 写入的用户 ID，访客请求返回空串
func UserID(c *gin.Context) string {
	return c.GetString(ContextUserID)
}

// IsGuest 请求是否以访客会话通过了 GuestGate
func IsGuest(c *gin.Context) bool {
	return c.GetBool(ContextGuest)
}

// Auth 返回一个 Gin 中间件，用于验证 JWT token。
// jwtSecret: 用于验证签名的密钥，必须提供。
func Auth(jwtSecret string) gin.HandlerFunc {
	if jwtSecret == "" {
		panic("JWT secret cannot be empty for Auth middleware")
	}

	return func(c *gin.Context) {
		tokenStr, err := extractToken(c)
		if err != nil {
			if errors.Is(err, ErrMissingAuthHeader) {
				logrus.Warn("Auth middleware: Missing Authorization header")
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header is required"})
			} else {
				logrus.Warnf("Auth middleware: Malformed token format: %v", err)
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token format"})
			}
			return
		}
		if !authenticate(c, tokenStr, jwtSecret) {
			return
		}
		c.Next()
	}
}

// authenticate 校验 token 并把 user_id 写入上下文，失败时已写出 401 响应
func authenticate(c *gin.Context, tokenStr, jwtSecret string) bool {
	claims, err := validateToken(tokenStr, jwtSecret)
	if err != nil {
		logCtx := logrus.WithError(err)
		logCtx.Warn("Auth middleware: Invalid token")

		var validationError *jwt.ValidationError
		if errors.As(err, &validationError) {
			if validationError.Errors&jwt.ValidationErrorExpired != 0 {
				logCtx.Warn("Reason: Token is expired")
			} else if validationError.Errors&jwt.ValidationErrorSignatureInvalid != 0 {
				logCtx.Warn("Reason: Token signature is invalid")
			}
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
		return false
	}

	// user_id 是字符串形式的 UUID
	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		logrus.Errorf("Auth middleware: 'user_id' claim missing or not a string: %v", claims["user_id"])
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Token processing error: invalid user_id"})
		return false
	}

	c.Set(ContextUserID, userID)
	logrus.WithField("user_id", userID).Debug("Auth middleware: User authenticated via JWT")
	return true
}

// ErrMissingAuthHeader 表示请求没有携带 token
var ErrMissingAuthHeader = errors.New("missing Authorization header")

// extractToken 从 Authorization 头提取 Bearer Token。
// 浏览器的 WebSocket 无法设置请求头，因此也接受 token 查询参数。
func extractToken(c *gin.Context) (string, error) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		if q := c.Query("token"); q != "" {
			return q, nil
		}
		return "", ErrMissingAuthHeader
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", jwt.ErrTokenMalformed
	}
	return parts[1], nil
}

// validateToken 解析并验证 JWT token 字符串
func validateToken(tokenStr string, secret string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token or claims type")
}
