package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/221fa04357-prog/connect-pro/internal/domain"
	"github.com/221fa04357-prog/connect-pro/internal/middleware"
	"github.com/221fa04357-prog/connect-pro/internal/service"
	"github.com/221fa04357-prog/connect-pro/internal/store"
)

// AuthHandler 封装了账号与设备登录状态相关的 HTTP 处理逻辑
type AuthHandler struct {
	authService *service.AuthService
}

// NewAuthHandler 创建 AuthHandler 实例
func NewAuthHandler(authService *service.AuthService) *AuthHandler {
	if authService == nil {
		panic("AuthService cannot be nil for AuthHandler")
	}
	return &AuthHandler{authService: authService}
}

// RegisterRequest 注册请求
type RegisterRequest struct {
	Name     string `json:"name" binding:"required,max=191"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
}

// Register 处理用户注册请求
func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logrus.WithError(err).Warn("Handler.Register: Invalid input format")
		bindError(c, err)
		return
	}

	newUser, err := h.authService.Register(c.Request.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		logCtx := logrus.WithField("email", req.Email)
		if errors.Is(err, service.ErrRegistrationFailed) {
			logCtx.WithError(err).Warn("Handler.Register: Registration failed (duplicate email)")
		}
		HandleServiceError(c, err)
		return
	}

	logrus.WithField("user_id", newUser.ID).Info("Handler.Register: User registered successfully")
	c.JSON(http.StatusCreated, gin.H{
		"message": "User registered successfully",
		"user":    newUser,
	})
}

// LoginRequest 登录请求
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse 登录成功的响应
type LoginResponse struct {
	Message string          `json:"message"`
	Token   string          `json:"token"`
	Auth    store.AuthState `json:"auth"`
}

// Login 处理用户登录请求，登录状态写入请求所属的设备
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logrus.WithError(err).Warn("Handler.Login: Invalid input format")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input: email and password required"})
		return
	}

	token, state, err := h.authService.Login(c.Request.Context(), middleware.DeviceIDFrom(c), req.Email, req.Password)
	if err != nil {
		HandleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, LoginResponse{
		Message: "Login successful",
		Token:   token,
		Auth:    state,
	})
}

// Logout 清除设备上的登录状态
func (h *AuthHandler) Logout(c *gin.Context) {
	if err := h.authService.Logout(c.Request.Context(), middleware.DeviceIDFrom(c)); err != nil {
		HandleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

// Me 返回设备上的登录状态
func (h *AuthHandler) Me(c *gin.Context) {
	state, err := h.authService.Current(c.Request.Context(), middleware.DeviceIDFrom(c))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, state)
}

// SubscriptionRequest 修改订阅等级的请求
type SubscriptionRequest struct {
	Plan domain.SubscriptionPlan `json:"plan" binding:"required"`
}

// UpdateSubscription 修改设备上登录用户的订阅等级，需要 JWT
func (h *AuthHandler) UpdateSubscription(c *gin.Context) {
	var req SubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	state, err := h.authService.SetSubscription(c.Request.Context(), middleware.DeviceIDFrom(c), middleware.UserID(c), req.Plan)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, state)
}
