package setup

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/221fa04357-prog/connect-pro/internal/domain"
)

// MigrateDB 迁移所有表结构。返回错误以便调用者知道迁移是否成功。
func MigrateDB(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("cannot migrate database with nil DB connection")
	}

	models := []interface{}{
		&domain.User{},
		&domain.Meeting{},
		&domain.ChatMessage{},
	}
	// 表统一使用 utf8mb4，聊天内容里的 emoji 需要四字节编码
	err := db.Set("gorm:table_options", "ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_general_ci").
		AutoMigrate(models...)
	if err != nil {
		logrus.Errorf("Failed to auto-migrate tables: %v", err)
		return fmt.Errorf("failed to auto-migrate tables: %w", err)
	}

	// 唯一索引 idx_email 由 domain.User 的 tag 创建；旧库里缺失时补上
	if !db.Migrator().HasIndex(&domain.User{}, "idx_email") {
		if err := db.Migrator().CreateIndex(&domain.User{}, "idx_email"); err != nil {
			return fmt.Errorf("failed to create users.idx_email: %w", err)
		}
		logrus.Info("Created missing index users.idx_email")
	}

	logrus.Info("Database migration completed successfully")
	return nil
}
