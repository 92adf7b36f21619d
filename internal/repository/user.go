package repository

import (
	"context"

	"github.com/221fa04357-prog/connect-pro/internal/domain"
)

// UserRepository 定义了用户数据的存储和检索操作。
type UserRepository interface {
	// FindByEmail 根据邮箱查找用户。
	// 如果用户不存在，返回 ErrUserNotFound。
	FindByEmail(ctx context.Context, email string) (*domain.User, error)

	// FindByID 根据用户 ID 查找用户。
	FindByID(ctx context.Context, id string) (*domain.User, error)

	// Save 保存用户信息。
	// 邮箱重复时返回 ErrDuplicateEntry。
	Save(ctx context.Context, user *domain.User) error
}
