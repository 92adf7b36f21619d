package gormpersistence

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/221fa04357-prog/connect-pro/internal/domain"
	"github.com/221fa04357-prog/connect-pro/internal/repository"
)

// chatInsertBatchSize 单条 INSERT 语句包含的最大行数
const chatInsertBatchSize = 200

// GormChatRepository 是 ChatRepository 接口的 GORM 实现
type GormChatRepository struct {
	db *gorm.DB
}

var _ repository.ChatRepository = (*GormChatRepository)(nil)

// NewGormChatRepository 创建 GormChatRepository 实例
func NewGormChatRepository(db *gorm.DB) *GormChatRepository {
	if db == nil {
		panic("database connection cannot be nil for GormChatRepository")
	}
	return &GormChatRepository{db: db}
}

// SaveBatch 批量插入聊天消息。任务重试时同一条消息可能被提交多次，主键冲突的行被忽略。
func (r *GormChatRepository) SaveBatch(ctx context.Context, messages []domain.ChatMessage) error {
	if len(messages) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(&messages, chatInsertBatchSize).Error
	if err != nil {
		return fmt.Errorf("gorm: failed to save chat batch (size %d): %w", len(messages), err)
	}
	return nil
}

// ListByMeeting 按时间顺序返回会议最近的 limit 条消息，limit <= 0 表示全部。
func (r *GormChatRepository) ListByMeeting(ctx context.Context, meetingID string, limit int) ([]domain.ChatMessage, error) {
	var messages []domain.ChatMessage
	q := r.db.WithContext(ctx).Where("meeting_id = ?", meetingID).Order("timestamp DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("gorm: list chat for meeting %s: %w", meetingID, err)
	}
	// 查询按时间倒序取最近的 limit 条，返回前翻转为正序
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}
