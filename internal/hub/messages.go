package hub

import (
	"encoding/json"

	"github.com/221fa04357-prog/connect-pro/internal/domain"
	"github.com/221fa04357-prog/connect-pro/internal/store"
)

// 发给客户端的消息类型
const (
	MsgState           = "state"
	MsgParticipants    = "participants"
	MsgMeeting         = "meeting"
	MsgReactionAdded   = "reaction_added"
	MsgReactionRemoved = "reaction_removed"
	MsgChat            = "chat"
	MsgTyping          = "typing"
	MsgError           = "error"
	MsgClosed          = "closed"
)

// 连接被服务端关闭的原因
const (
	ReasonMeetingEnded = "meeting_ended"
	ReasonRemoved      = "removed"
	ReasonGuestExpired = "guest_expired"
	ReasonNotInMeeting = "not_in_meeting"
)

// ChatState 是某个参会者视角下的聊天状态
type ChatState struct {
	Messages    []domain.ChatMessage `json:"messages"`
	UnreadCount int                  `json:"unreadCount"`
	ActiveTab   domain.ChatType      `json:"activeTab"`
	TypingUsers []string             `json:"typingUsers"`
}

// OutboundMessage 是服务端推送给客户端的消息
type OutboundMessage struct {
	Type         string                  `json:"type"`
	Meeting      *domain.Meeting         `json:"meeting,omitempty"`
	Participants *store.ParticipantsSync `json:"participants,omitempty"`
	Chat         *ChatState              `json:"chat,omitempty"`
	Reactions    []domain.Reaction       `json:"reactions,omitempty"`
	Reaction     *domain.Reaction        `json:"reaction,omitempty"`
	ReactionID   string                  `json:"reactionId,omitempty"`
	Message      *domain.ChatMessage     `json:"message,omitempty"`
	TypingUsers  []string                `json:"typingUsers,omitempty"`
	Command      string                  `json:"command,omitempty"`
	Error        string                  `json:"error,omitempty"`
	Reason       string                  `json:"reason,omitempty"`
}

func encode(msg OutboundMessage) []byte {
	b, err := json.Marshal(msg)
	if err != nil {
		// 所有字段都是可序列化的普通结构
		panic(err)
	}
	return b
}
