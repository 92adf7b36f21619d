package repository

import (
	"context"

	"github.com/221fa04357-prog/connect-pro/internal/domain"
)

// ChatRepository 定义了聊天记录的归档操作。
type ChatRepository interface {
	// SaveBatch 批量保存聊天消息，已存在的消息 ID 会被忽略。
	SaveBatch(ctx context.Context, messages []domain.ChatMessage) error

	// ListByMeeting 按时间顺序返回某场会议的聊天记录。
	ListByMeeting(ctx context.Context, meetingID string, limit int) ([]domain.ChatMessage, error)
}
