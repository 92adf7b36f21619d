package store

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/221fa04357-prog/connect-pro/internal/domain"
	"github.com/221fa04357-prog/connect-pro/internal/eventbus"
)

// MaxChatMessageLength 单条消息的最大长度 (按 rune 计)
const MaxChatMessageLength = 2000

// ChatTyping 是 chat:typing 事件的载荷
type ChatTyping struct {
	ParticipantID string   `json:"participantId"`
	Typing        bool     `json:"typing"`
	TypingUsers   []string `json:"typingUsers"`
}

// ChatStore 保存一场会议的聊天记录、各参会者的未读位置、当前标签页和正在输入的用户。
// 聊天只在本进程内通过总线通知，不参与跨实例同步。
type ChatStore struct {
	mu          sync.RWMutex
	meetingID   string
	instanceID  string
	bus         *eventbus.Bus
	messages    []domain.ChatMessage
	readUpTo    map[string]int
	activeTabs  map[string]domain.ChatType
	typingUsers []string
	now         Clock
	log         *logrus.Entry
}

// ChatOption 定制 ChatStore
type ChatOption func(*ChatStore)

// WithChatClock 替换时钟
func WithChatClock(c Clock) ChatOption {
	return func(s *ChatStore) { s.now = c }
}

// NewChatStore 创建某个会议的聊天 Store
func NewChatStore(bus *eventbus.Bus, meetingID, instanceID string, opts ...ChatOption) *ChatStore {
	if bus == nil {
		panic("event bus cannot be nil for ChatStore")
	}
	s := &ChatStore{
		meetingID:  meetingID,
		instanceID: instanceID,
		bus:        bus,
		readUpTo:   make(map[string]int),
		activeTabs: make(map[string]domain.ChatType),
		now:        time.Now,
		log:        logrus.WithFields(logrus.Fields{"component": "chat_store", "meeting_id": meetingID}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SendMessage 校验并追加一条本地发出的消息，然后在总线上通知。
// 私聊必须带 recipientID，公开消息不能带。
func (s *ChatStore) SendMessage(sender domain.Participant, content string, typ domain.ChatType, recipientID string) (domain.ChatMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" || len([]rune(content)) > MaxChatMessageLength {
		return domain.ChatMessage{}, ErrInvalidMessage
	}
	if typ == "" {
		typ = domain.ChatPublic
	}
	switch typ {
	case domain.ChatPublic:
		if recipientID != "" {
			return domain.ChatMessage{}, ErrInvalidMessage
		}
	case domain.ChatPrivate:
		if recipientID == "" || recipientID == sender.ID {
			return domain.ChatMessage{}, ErrInvalidMessage
		}
	default:
		return domain.ChatMessage{}, ErrInvalidMessage
	}

	msg := domain.ChatMessage{
		ID:          uuid.NewString(),
		MeetingID:   s.meetingID,
		SenderID:    sender.ID,
		SenderName:  sender.Name,
		Content:     content,
		Timestamp:   s.now(),
		Type:        typ,
		RecipientID: recipientID,
	}
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.removeTypingLocked(sender.ID)
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{"message_id": msg.ID, "sender_id": sender.ID, "type": typ}).Debug("Chat message sent")
	s.bus.Publish(eventbus.EventChatMessage, msg, eventbus.Meta{Source: s.instanceID})
	return msg, nil
}

// AddMessage 追加一条已经构造好的消息 (例如从归档恢复)，不会在总线上通知。
func (s *ChatStore) AddMessage(msg domain.ChatMessage) error {
	if msg.ID == "" || msg.SenderID == "" {
		return ErrInvalidMessage
	}
	if msg.Type == "" {
		msg.Type = domain.ChatPublic
	}
	if msg.MeetingID == "" {
		msg.MeetingID = s.meetingID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.ID == msg.ID {
			return nil
		}
	}
	s.messages = append(s.messages, msg)
	return nil
}

// Messages 返回全部消息的副本
func (s *ChatStore) Messages() []domain.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.ChatMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

// VisibleTo 返回 viewerID 能看到的消息：所有公开消息，以及自己发出或收到的私聊。
func (s *ChatStore) VisibleTo(viewerID string) []domain.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.ChatMessage, 0, len(s.messages))
	for _, m := range s.messages {
		if m.VisibleTo(viewerID) {
			out = append(out, m)
		}
	}
	return out
}

// UnreadCount 返回 viewerID 上次 MarkAsRead 之后收到的可见消息数，不含自己发的。
func (s *ChatStore) UnreadCount(viewerID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, m := range s.messages[s.readUpTo[viewerID]:] {
		if m.SenderID != viewerID && m.VisibleTo(viewerID) {
			n++
		}
	}
	return n
}

// MarkAsRead 把 viewerID 的未读数清零
func (s *ChatStore) MarkAsRead(viewerID string) {
	s.mu.Lock()
	s.readUpTo[viewerID] = len(s.messages)
	s.mu.Unlock()
}

// SetActiveTab 设置 viewerID 当前查看的聊天标签页
func (s *ChatStore) SetActiveTab(viewerID string, tab domain.ChatType) error {
	if tab != domain.ChatPublic && tab != domain.ChatPrivate {
		return ErrInvalidMessage
	}
	s.mu.Lock()
	s.activeTabs[viewerID] = tab
	s.mu.Unlock()
	return nil
}

// ActiveTab 返回 viewerID 当前的标签页，默认 public。
func (s *ChatStore) ActiveTab(viewerID string) domain.ChatType {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if tab, ok := s.activeTabs[viewerID]; ok {
		return tab
	}
	return domain.ChatPublic
}

// AddTypingUser 标记正在输入，重复调用不会重复添加。
func (s *ChatStore) AddTypingUser(id string) {
	s.mu.Lock()
	for _, u := range s.typingUsers {
		if u == id {
			s.mu.Unlock()
			return
		}
	}
	s.typingUsers = append(s.typingUsers, id)
	users := s.typingUsersLocked()
	s.mu.Unlock()

	s.bus.Publish(eventbus.EventChatTyping, ChatTyping{ParticipantID: id, Typing: true, TypingUsers: users}, eventbus.Meta{Source: s.instanceID})
}

// RemoveTypingUser 取消正在输入标记
func (s *ChatStore) RemoveTypingUser(id string) {
	s.mu.Lock()
	removed := s.removeTypingLocked(id)
	users := s.typingUsersLocked()
	s.mu.Unlock()

	if removed {
		s.bus.Publish(eventbus.EventChatTyping, ChatTyping{ParticipantID: id, Typing: false, TypingUsers: users}, eventbus.Meta{Source: s.instanceID})
	}
}

// TypingUsers 返回正在输入的用户
func (s *ChatStore) TypingUsers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.typingUsersLocked()
}

// Forget 清除某个参会者的未读位置、标签页和输入状态 (离开会议时调用)
func (s *ChatStore) Forget(viewerID string) {
	s.mu.Lock()
	delete(s.readUpTo, viewerID)
	delete(s.activeTabs, viewerID)
	s.removeTypingLocked(viewerID)
	s.mu.Unlock()
}

func (s *ChatStore) typingUsersLocked() []string {
	out := make([]string, len(s.typingUsers))
	copy(out, s.typingUsers)
	return out
}

func (s *ChatStore) removeTypingLocked(id string) bool {
	for i, u := range s.typingUsers {
		if u == id {
			s.typingUsers = append(s.typingUsers[:i], s.typingUsers[i+1:]...)
			return true
		}
	}
	return false
}
