package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/221fa04357-prog/connect-pro/internal/domain"
	"github.com/221fa04357-prog/connect-pro/internal/repository"
	"github.com/221fa04357-prog/connect-pro/internal/store"
)

// minPasswordLength 注册时的最短密码长度
const minPasswordLength = 8

// AuthService 负责账号注册、登录以及设备上的登录状态。
type AuthService struct {
	userRepo  repository.UserRepository
	devices   repository.DeviceStorage
	jwtSecret []byte        // 存储密钥的字节形式
	jwtExpiry time.Duration // JWT 过期时间
}

// NewAuthService 创建 AuthService 实例。
// jwtExpiryHours 定义 token 过期的小时数。
func NewAuthService(userRepo repository.UserRepository, devices repository.DeviceStorage, jwtSecretKey string, jwtExpiryHours int) (*AuthService, error) {
	if userRepo == nil {
		panic("UserRepository cannot be nil for AuthService")
	}
	if devices == nil {
		panic("DeviceStorage cannot be nil for AuthService")
	}
	if jwtSecretKey == "" {
		return nil, fmt.Errorf("JWT secret key cannot be empty")
	}
	if jwtExpiryHours <= 0 {
		jwtExpiryHours = 24 // 默认 24 小时
	}
	return &AuthService{
		userRepo:  userRepo,
		devices:   devices,
		jwtSecret: []byte(jwtSecretKey),
		jwtExpiry: time.Duration(jwtExpiryHours) * time.Hour,
	}, nil
}

// Register 处理用户注册。
func (s *AuthService) Register(ctx context.Context, name, email, password string) (*domain.User, error) {
	name = strings.TrimSpace(name)
	email = strings.ToLower(strings.TrimSpace(email))
	logCtx := logrus.WithFields(logrus.Fields{"name": name, "email": email})

	if name == "" || len(password) < minPasswordLength {
		return nil, ErrInvalidInput
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, ErrInvalidInput
	}

	hashedPassword, err := hashPassword(password)
	if err != nil {
		logCtx.WithError(err).Error("Failed to hash password during registration")
		return nil, ErrInternalServer
	}

	user := &domain.User{
		ID:               uuid.NewString(),
		Name:             name,
		Email:            email,
		PasswordHash:     hashedPassword,
		SubscriptionPlan: domain.PlanFree,
	}
	if err := s.userRepo.Save(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEntry) {
			logCtx.WithError(err).Warn("Registration failed: email already exists")
			return nil, ErrRegistrationFailed
		}
		logCtx.WithError(err).Error("Database error during user creation")
		return nil, ErrInternalServer
	}

	logCtx.WithField("user_id", user.ID).Info("User registered successfully")
	user.PasswordHash = "" // 清除密码哈希再返回
	return user, nil
}

// Login 校验邮箱和密码，签发 JWT，并把用户写入设备的登录状态。
func (s *AuthService) Login(ctx context.Context, deviceID, email, password string) (string, store.AuthState, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	logCtx := logrus.WithFields(logrus.Fields{"email": email, "device_id": deviceID})

	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			logCtx.WithError(err).Warn("Login attempt failed: User not found")
		} else {
			logCtx.WithError(err).Warn("Login attempt failed: Error finding user")
		}
		return "", store.AuthState{}, ErrAuthenticationFailed // 对客户端统一返回认证失败
	}
	if user == nil {
		return "", store.AuthState{}, ErrAuthenticationFailed
	}
	if !checkPassword(password, user.PasswordHash) {
		logCtx.Warn("Login attempt failed: Invalid password")
		return "", store.AuthState{}, ErrAuthenticationFailed
	}

	token, err := s.generateJWT(user.ID)
	if err != nil {
		logCtx.WithError(err).Error("Failed to generate JWT token during login")
		return "", store.AuthState{}, ErrInternalServer
	}

	auth, err := s.authStore(ctx, deviceID)
	if err != nil {
		return "", store.AuthState{}, err
	}
	if err := auth.Login(ctx, *user); err != nil {
		logCtx.WithError(err).Error("Failed to persist device login")
		return "", store.AuthState{}, ErrInternalServer
	}

	logCtx.WithField("user_id", user.ID).Info("User logged in successfully")
	return token, auth.State(), nil
}

// Logout 清除设备上的登录状态
func (s *AuthService) Logout(ctx context.Context, deviceID string) error {
	auth, err := s.authStore(ctx, deviceID)
	if err != nil {
		return err
	}
	if err := auth.Logout(ctx); err != nil {
		logrus.WithField("device_id", deviceID).WithError(err).Error("Failed to clear device login")
		return ErrInternalServer
	}
	return nil
}

// Current 返回设备上的登录状态
func (s *AuthService) Current(ctx context.Context, deviceID string) (store.AuthState, error) {
	auth, err := s.authStore(ctx, deviceID)
	if err != nil {
		return store.AuthState{}, err
	}
	return auth.State(), nil
}

// SetSubscription 修改设备上登录用户的订阅等级。
// userID 来自请求的 JWT，必须与设备上登录的用户一致。
func (s *AuthService) SetSubscription(ctx context.Context, deviceID, userID string, plan domain.SubscriptionPlan) (store.AuthState, error) {
	if !plan.Valid() {
		return store.AuthState{}, ErrInvalidInput
	}
	auth, err := s.authStore(ctx, deviceID)
	if err != nil {
		return store.AuthState{}, err
	}
	st := auth.State()
	if !st.IsAuthenticated || st.User == nil {
		return store.AuthState{}, ErrNotLoggedIn
	}
	if st.User.ID != userID {
		return store.AuthState{}, ErrForbidden
	}
	if err := auth.SetSubscription(ctx, plan); err != nil {
		logrus.WithFields(logrus.Fields{"device_id": deviceID, "user_id": userID}).
			WithError(err).Error("Failed to update subscription")
		return store.AuthState{}, ErrInternalServer
	}
	return auth.State(), nil
}

// User 按 ID 查找注册用户，返回前清除密码哈希
func (s *AuthService) User(ctx context.Context, userID string) (*domain.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		if !errors.Is(err, repository.ErrUserNotFound) {
			logrus.WithField("user_id", userID).WithError(err).Error("Failed to load user")
		}
		return nil, mapRepoError(err, ErrUserNotFound)
	}
	user.PasswordHash = ""
	return user, nil
}

// ParseToken 校验 JWT 并返回其中的用户 ID
func (s *AuthService) ParseToken(tokenString string) (string, error) {
	return ParseUserToken(tokenString, s.jwtSecret)
}

// ParseUserToken 校验 HS256 签名的 JWT 并取出 user_id 声明
func ParseUserToken(tokenString string, secret []byte) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		return "", ErrAuthenticationFailed
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrAuthenticationFailed
	}
	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return "", ErrAuthenticationFailed
	}
	return userID, nil
}

func (s *AuthService) authStore(ctx context.Context, deviceID string) (*store.AuthStore, error) {
	if deviceID == "" {
		return nil, ErrInvalidInput
	}
	auth, err := store.LoadAuthStore(ctx, s.devices, deviceID)
	if err != nil {
		logrus.WithField("device_id", deviceID).WithError(err).Error("Failed to load device auth state")
		return nil, ErrInternalServer
	}
	return auth, nil
}

// --- 私有辅助函数 ---

// hashPassword 使用 bcrypt 对密码进行哈希处理
func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to generate hash from password: %w", err)
	}
	return string(bytes), nil
}

// checkPassword 验证提供的密码是否与存储的哈希匹配
func checkPassword(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// generateJWT 为指定用户 ID 生成 JWT Token
func (s *AuthService) generateJWT(userID string) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"exp":     now.Add(s.jwtExpiry).Unix(),
		"iat":     now.Unix(),
	})
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}
