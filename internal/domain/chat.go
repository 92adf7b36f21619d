package domain

import "time"

// ChatType 区分公开消息和私聊消息。
type ChatType string

const (
	ChatPublic  ChatType = "public"
	ChatPrivate ChatType = "private"
)

// ChatMessage 表示一条会中聊天消息，只追加不修改。
type ChatMessage struct {
	ID          string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	MeetingID   string    `gorm:"type:varchar(36);index;not null" json:"meetingId"`
	SenderID    string    `gorm:"type:varchar(64);not null" json:"senderId"`
	SenderName  string    `gorm:"type:varchar(191);not null" json:"senderName"`
	Content     string    `gorm:"type:text;not null" json:"content"`
	Timestamp   time.Time `gorm:"index;not null" json:"timestamp"`
	Type        ChatType  `gorm:"type:varchar(20);not null" json:"type"`
	RecipientID string    `gorm:"type:varchar(64)" json:"recipientId,omitempty"`
}

// VisibleTo 报告 viewerID 是否可以看到这条消息。
func (m ChatMessage) VisibleTo(viewerID string) bool {
	if m.Type != ChatPrivate {
		return true
	}
	return m.SenderID == viewerID || m.RecipientID == viewerID
}
