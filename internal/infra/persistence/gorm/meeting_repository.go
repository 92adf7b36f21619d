package gormpersistence

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/221fa04357-prog/connect-pro/internal/domain"
	"github.com/221fa04357-prog/connect-pro/internal/repository"
)

// checkpointColumns 是检查点任务写回的会中可变字段
var checkpointColumns = []string{
	"host_id",
	"duration_minutes",
	"is_recording",
	"recording_started_at",
	"is_screen_sharing",
	"view_mode",
}

// GormMeetingRepository 是 MeetingRepository 接口的 GORM 实现
type GormMeetingRepository struct {
	db *gorm.DB
}

var _ repository.MeetingRepository = (*GormMeetingRepository)(nil)

// NewGormMeetingRepository 创建 GormMeetingRepository 实例
func NewGormMeetingRepository(db *gorm.DB) *GormMeetingRepository {
	if db == nil {
		panic("database connection cannot be nil for GormMeetingRepository")
	}
	return &GormMeetingRepository{db: db}
}

// FindByID 根据会议 ID 查找会议
func (r *GormMeetingRepository) FindByID(ctx context.Context, id string) (*domain.Meeting, error) {
	var m domain.Meeting
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrMeetingNotFound
		}
		return nil, fmt.Errorf("gorm: find meeting by id %s: %w", id, err)
	}
	return &m, nil
}

// Save 创建或更新会议
func (r *GormMeetingRepository) Save(ctx context.Context, m *domain.Meeting) error {
	if err := r.db.WithContext(ctx).Save(m).Error; err != nil {
		if isDuplicateEntryError(err) {
			return repository.ErrDuplicateEntry
		}
		return fmt.Errorf("gorm: save meeting (id: %s): %w", m.ID, err)
	}
	return nil
}

// SaveBatch 在一个事务里写回多场会议的会中状态，只更新 checkpointColumns。
// 标题、设置和密码不会被检查点覆盖。
func (r *GormMeetingRepository) SaveBatch(ctx context.Context, meetings []domain.Meeting) error {
	if len(meetings) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range meetings {
			m := &meetings[i]
			res := tx.Model(&domain.Meeting{}).
				Where("id = ?", m.ID).
				Select(checkpointColumns).
				Updates(map[string]interface{}{
					"host_id":              m.HostID,
					"duration_minutes":     m.DurationMinutes,
					"is_recording":         m.IsRecording,
					"recording_started_at": m.RecordingStartedAt,
					"is_screen_sharing":    m.IsScreenSharing,
					"view_mode":            m.ViewMode,
				})
			if res.Error != nil {
				return fmt.Errorf("checkpoint meeting %s: %w", m.ID, res.Error)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("gorm: failed to save meeting batch (size %d): %w", len(meetings), err)
	}
	return nil
}
