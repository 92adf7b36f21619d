package service_test // 测试包

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/221fa04357-prog/connect-pro/internal/domain"
	"github.com/221fa04357-prog/connect-pro/internal/infra/state/memory"
	"github.com/221fa04357-prog/connect-pro/internal/repository"
	"github.com/221fa04357-prog/connect-pro/internal/repository/mocks"
	"github.com/221fa04357-prog/connect-pro/internal/service"
)

const testDevice = "device-1"

func newAuthService(t *testing.T) (*service.AuthService, *mocks.UserRepository) {
	t.Helper()
	mockUserRepo := mocks.NewUserRepository(t)
	authService, err := service.NewAuthService(mockUserRepo, memory.NewDeviceStorage(), "test-secret", 24)
	require.NoError(t, err, "创建 AuthService 不应失败")
	return authService, mockUserRepo
}

func storedUser(t *testing.T, id, email, password string) *domain.User {
	t.Helper()
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return &domain.User{ID: id, Name: "Alice", Email: email, PasswordHash: string(hashedPassword), SubscriptionPlan: domain.PlanPro}
}

// --- 测试 Register 方法 ---

func TestAuthService_Register_Success(t *testing.T) {
	// Arrange
	authService, mockUserRepo := newAuthService(t)
	ctx := context.Background()
	password := "StrongPass123"

	mockUserRepo.On("Save", ctx, mock.MatchedBy(func(user *domain.User) bool {
		return user.Email == "alice@example.com" &&
			user.ID != "" &&
			bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) == nil
	})).Return(nil).Once()

	// Act
	registeredUser, err := authService.Register(ctx, " Alice ", "Alice@Example.com", password)

	// Assert
	require.NoError(t, err, "成功注册时不应有错误")
	assert.Equal(t, "Alice", registeredUser.Name)
	assert.Equal(t, "alice@example.com", registeredUser.Email, "邮箱应被转为小写")
	assert.Equal(t, domain.PlanFree, registeredUser.SubscriptionPlan)
	assert.Empty(t, registeredUser.PasswordHash, "返回的用户密码哈希应为空")
}

func TestAuthService_Register_InvalidInput(t *testing.T) {
	authService, mockUserRepo := newAuthService(t)
	ctx := context.Background()

	_, err := authService.Register(ctx, "", "a@example.com", "password123")
	assert.ErrorIs(t, err, service.ErrInvalidInput, "缺少姓名应被拒绝")
	_, err = authService.Register(ctx, "Bob", "not-an-email", "password123")
	assert.ErrorIs(t, err, service.ErrInvalidInput, "邮箱格式错误应被拒绝")
	_, err = authService.Register(ctx, "Bob", "b@example.com", "short")
	assert.ErrorIs(t, err, service.ErrInvalidInput, "密码过短应被拒绝")

	mockUserRepo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestAuthService_Register_DuplicateEntry(t *testing.T) {
	authService, mockUserRepo := newAuthService(t)
	ctx := context.Background()
	mockUserRepo.On("Save", ctx, mock.AnythingOfType("*domain.User")).Return(repository.ErrDuplicateEntry).Once()

	_, err := authService.Register(ctx, "Alice", "alice@example.com", "password123")

	require.Error(t, err)
	assert.True(t, errors.Is(err, service.ErrRegistrationFailed), "保存冲突时应返回 ErrRegistrationFailed")
}

// --- 测试 Login 方法 ---

func TestAuthService_Login_Success(t *testing.T) {
	// Arrange
	authService, mockUserRepo := newAuthService(t)
	ctx := context.Background()
	userInDb := storedUser(t, "user-1", "alice@example.com", "password123")
	mockUserRepo.On("FindByEmail", ctx, "alice@example.com").Return(userInDb, nil).Once()

	// Act
	token, state, err := authService.Login(ctx, testDevice, "ALICE@example.com", "password123")

	// Assert
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.True(t, state.IsAuthenticated)
	assert.Equal(t, domain.PlanFree, state.SubscriptionPlan, "登录后订阅等级总是 free")
	assert.Empty(t, state.User.PasswordHash)

	userID, err := authService.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID, "token 中应携带字符串形式的 user_id")

	current, err := authService.Current(ctx, testDevice)
	require.NoError(t, err)
	assert.True(t, current.IsAuthenticated, "登录状态应保存在设备存储中")

	other, err := authService.Current(ctx, "device-2")
	require.NoError(t, err)
	assert.False(t, other.IsAuthenticated, "其他设备不应受影响")
}

func TestAuthService_Login_UserNotFound(t *testing.T) {
	authService, mockUserRepo := newAuthService(t)
	ctx := context.Background()
	mockUserRepo.On("FindByEmail", ctx, "nobody@example.com").Return(nil, repository.ErrUserNotFound).Once()

	token, _, err := authService.Login(ctx, testDevice, "nobody@example.com", "password")

	require.Error(t, err)
	assert.Empty(t, token)
	assert.True(t, errors.Is(err, service.ErrAuthenticationFailed))
}

func TestAuthService_Login_IncorrectPassword(t *testing.T) {
	authService, mockUserRepo := newAuthService(t)
	ctx := context.Background()
	userInDb := storedUser(t, "user-1", "alice@example.com", "password123")
	mockUserRepo.On("FindByEmail", ctx, "alice@example.com").Return(userInDb, nil).Once()

	token, _, err := authService.Login(ctx, testDevice, "alice@example.com", "wrongpassword")

	require.Error(t, err)
	assert.Empty(t, token)
	assert.True(t, errors.Is(err, service.ErrAuthenticationFailed))

	current, err := authService.Current(ctx, testDevice)
	require.NoError(t, err)
	assert.False(t, current.IsAuthenticated, "登录失败不应写入设备状态")
}

func TestAuthService_LogoutAndSubscription(t *testing.T) {
	authService, mockUserRepo := newAuthService(t)
	ctx := context.Background()
	userInDb := storedUser(t, "user-1", "alice@example.com", "password123")
	mockUserRepo.On("FindByEmail", ctx, "alice@example.com").Return(userInDb, nil).Once()

	_, _, err := authService.Login(ctx, testDevice, "alice@example.com", "password123")
	require.NoError(t, err)

	_, err = authService.SetSubscription(ctx, testDevice, "user-2", domain.PlanPro)
	assert.ErrorIs(t, err, service.ErrForbidden, "不能修改其他用户的订阅")
	_, err = authService.SetSubscription(ctx, testDevice, "user-1", "platinum")
	assert.ErrorIs(t, err, service.ErrInvalidInput)

	state, err := authService.SetSubscription(ctx, testDevice, "user-1", domain.PlanEnterprise)
	require.NoError(t, err)
	assert.Equal(t, domain.PlanEnterprise, state.SubscriptionPlan)

	require.NoError(t, authService.Logout(ctx, testDevice))
	current, err := authService.Current(ctx, testDevice)
	require.NoError(t, err)
	assert.False(t, current.IsAuthenticated)
	assert.Nil(t, current.User)

	_, err = authService.SetSubscription(ctx, testDevice, "user-1", domain.PlanPro)
	assert.ErrorIs(t, err, service.ErrNotLoggedIn, "退出后修改订阅应失败")
}

func TestAuthService_ParseToken_Rejects(t *testing.T) {
	authService, _ := newAuthService(t)

	_, err := authService.ParseToken("not-a-token")
	assert.ErrorIs(t, err, service.ErrAuthenticationFailed)

	_, err = service.ParseUserToken("not-a-token", []byte("other"))
	assert.ErrorIs(t, err, service.ErrAuthenticationFailed)
}
