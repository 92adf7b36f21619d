package domain

import "time"

// DefaultAvatarColor 是从等候室准入的参会者使用的头像颜色。
const DefaultAvatarColor = "#0B5CFF"

// Participant 表示会议中的一名参会者。
// Role 是持久的基础角色，会中的角色调整只写在 transient 覆盖表里。
type Participant struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Role          Role      `json:"role"`
	IsAudioMuted  bool      `json:"isAudioMuted"`
	IsVideoOff    bool      `json:"isVideoOff"`
	IsHandRaised  bool      `json:"isHandRaised"`
	IsSpeaking    bool      `json:"isSpeaking"`
	IsPinned      bool      `json:"isPinned"`
	IsSpotlighted bool      `json:"isSpotlighted"`
	Avatar        string    `json:"avatar,omitempty"`
	JoinedAt      time.Time `json:"joinedAt"`
}

// WaitingRoomParticipant 表示等候室中尚未被准入的参会者。
type WaitingRoomParticipant struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	JoinedAt time.Time `json:"joinedAt"`
}
