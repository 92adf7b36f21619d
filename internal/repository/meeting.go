package repository

import (
	"context"

	"github.com/221fa04357-prog/connect-pro/internal/domain"
)

// MeetingRepository 定义了会议元数据的持久化操作。
type MeetingRepository interface {
	// FindByID 根据会议 ID 查找会议，不存在时返回 ErrMeetingNotFound。
	FindByID(ctx context.Context, id string) (*domain.Meeting, error)

	// Save 创建或更新会议记录。
	Save(ctx context.Context, meeting *domain.Meeting) error

	// SaveBatch 批量写回会议元数据，供周期性检查点任务使用。
	SaveBatch(ctx context.Context, meetings []domain.Meeting) error
}
