package domain

import "time"

// ViewMode 表示视频网格的布局方式。
type ViewMode string

const (
	ViewGallery ViewMode = "gallery"
	ViewSpeaker ViewMode = "speaker"
)

// Valid 检查布局是否为已知取值。
func (v ViewMode) Valid() bool {
	return v == ViewGallery || v == ViewSpeaker
}

// MeetingSettings 保存会议创建时的权限开关。
type MeetingSettings struct {
	EnableWaitingRoom              bool `gorm:"not null;default:false" json:"enableWaitingRoom"`
	AllowParticipantsToUnmute      bool `gorm:"not null;default:true" json:"allowParticipantsToUnmute"`
	AllowParticipantsToShareScreen bool `gorm:"not null;default:false" json:"allowParticipantsToShareScreen"`
}

// Meeting 表示一场会议的元数据。
type Meeting struct {
	ID                 string          `gorm:"type:varchar(36);primaryKey" json:"id"`
	Title              string          `gorm:"type:varchar(191);not null" json:"title"`
	HostID             string          `gorm:"type:varchar(64);index;not null" json:"hostId"`
	OriginalHostID     string          `gorm:"type:varchar(64);not null" json:"originalHostId"` // 只有原主持人有权收回主持人身份
	StartTime          time.Time       `gorm:"not null" json:"startTime"`
	DurationMinutes    int             `gorm:"not null;default:0" json:"duration"`
	Settings           MeetingSettings `gorm:"embedded;embeddedPrefix:setting_" json:"settings"`
	IsRecording        bool            `gorm:"not null;default:false" json:"isRecording"`
	RecordingStartedAt *time.Time      `json:"recordingStartedAt,omitempty"`
	IsScreenSharing    bool            `gorm:"not null;default:false" json:"isScreenSharing"`
	ViewMode           ViewMode        `gorm:"type:varchar(20);not null;default:'gallery'" json:"viewMode"`
	Password           string          `gorm:"type:varchar(64)" json:"-"`
	EndedAt            *time.Time      `gorm:"index" json:"endedAt,omitempty"`
	CreatedAt          time.Time       `gorm:"autoCreateTime" json:"-"`
	UpdatedAt          time.Time       `gorm:"autoUpdateTime" json:"-"`
}

// EndsAt 返回按当前时长计算的结束时间，时长为 0 时返回零值。
func (m Meeting) EndsAt() time.Time {
	if m.DurationMinutes <= 0 {
		return time.Time{}
	}
	return m.StartTime.Add(time.Duration(m.DurationMinutes) * time.Minute)
}

// Reaction 表示一个短暂显示的表情反应。
type Reaction struct {
	ID            string    `json:"id"`
	ParticipantID string    `json:"participantId"`
	Emoji         string    `json:"emoji"`
	Timestamp     time.Time `json:"timestamp"`
}
