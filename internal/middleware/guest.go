package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// GuestChecker 判断设备上的访客会话是否有效
type GuestChecker interface {
	Check(ctx context.Context, deviceID string) (bool, error)
}

// GuestGate 放行携带有效 JWT 的请求，或者设备上存在有效访客会话的请求。
// 必须挂在 DeviceID 之后。每次请求都会重新检查访客会话是否过期。
func GuestGate(jwtSecret string, guests GuestChecker) gin.HandlerFunc {
	if jwtSecret == "" {
		panic("JWT secret cannot be empty for GuestGate middleware")
	}
	if guests == nil {
		panic("GuestChecker cannot be nil for GuestGate middleware")
	}

	return func(c *gin.Context) {
		tokenStr, err := extractToken(c)
		switch {
		case err == nil:
			if authenticate(c, tokenStr, jwtSecret) {
				c.Next()
			}
			return
		case !errors.Is(err, ErrMissingAuthHeader):
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token format"})
			return
		}

		deviceID := DeviceIDFrom(c)
		logCtx := logrus.WithField("device_id", deviceID)
		active, err := guests.Check(c.Request.Context(), deviceID)
		if err != nil {
			logCtx.WithError(err).Error("GuestGate: Failed to check guest session")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to check guest session"})
			return
		}
		if !active {
			logCtx.Debug("GuestGate: No active guest session")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Login or an active guest session is required"})
			return
		}
		c.Set(ContextGuest, true)
		c.Next()
	}
}
