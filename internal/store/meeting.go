package store

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/221fa04357-prog/connect-pro/internal/domain"
	"github.com/221fa04357-prog/connect-pro/internal/eventbus"
)

// DefaultReactionTTL 表情反应的默认显示时长
const DefaultReactionTTL = 4 * time.Second

// MeetingSync 是 meeting:sync 事件的载荷
type MeetingSync struct {
	Meeting domain.Meeting `json:"meeting"`
}

// ReactionRemoved 是 reaction:removed 事件的载荷
type ReactionRemoved struct {
	ID string `json:"id"`
}

// MeetingStore 保存当前会议的元数据和正在显示的表情反应。
type MeetingStore struct {
	mu          sync.Mutex
	instanceID  string
	bus         *eventbus.Bus
	meeting     *domain.Meeting
	ver         version
	reactions   []domain.Reaction
	timers      map[string]*time.Timer
	reactionTTL time.Duration
	now         Clock
	unsubscribe []func()
	log         *logrus.Entry
}

// MeetingOption 定制 MeetingStore
type MeetingOption func(*MeetingStore)

// WithMeetingClock 替换时钟
func WithMeetingClock(c Clock) MeetingOption {
	return func(s *MeetingStore) { s.now = c }
}

// WithReactionTTL 设置表情反应的自动移除时间
func WithReactionTTL(d time.Duration) MeetingOption {
	return func(s *MeetingStore) {
		if d > 0 {
			s.reactionTTL = d
		}
	}
}

// NewMeetingStore 创建 MeetingStore 并订阅其他实例的 meeting:sync。
func NewMeetingStore(bus *eventbus.Bus, instanceID string, opts ...MeetingOption) *MeetingStore {
	if bus == nil {
		panic("event bus cannot be nil for MeetingStore")
	}
	s := &MeetingStore{
		instanceID:  instanceID,
		bus:         bus,
		timers:      make(map[string]*time.Timer),
		reactionTTL: DefaultReactionTTL,
		now:         time.Now,
		log:         logrus.WithFields(logrus.Fields{"component": "meeting_store", "instance": instanceID}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.unsubscribe = []func(){
		bus.Subscribe(eventbus.EventMeetingSync, s.onRemoteSync),
		bus.Subscribe(eventbus.EventMeetingResync, s.onResync),
	}
	return s
}

// Close 取消订阅并停止所有表情反应计时器
func (s *MeetingStore) Close() {
	for _, unsubscribe := range s.unsubscribe {
		unsubscribe()
	}
	s.ClearReactions()
}

func (s *MeetingStore) onRemoteSync(payload any, meta eventbus.Meta) {
	if meta.Source == s.instanceID {
		return
	}
	msg, err := eventbus.Decode[MeetingSync](payload)
	if err != nil {
		s.log.WithError(err).Warn("Ignoring malformed meeting sync")
		return
	}
	s.apply(msg, meta)
}

// onResync 只应用发给本实例的定向快照
func (s *MeetingStore) onResync(payload any, meta eventbus.Meta) {
	if meta.Source == s.instanceID {
		return
	}
	msg, err := eventbus.Decode[Resync[MeetingSync]](payload)
	if err != nil {
		s.log.WithError(err).Warn("Ignoring malformed meeting resync")
		return
	}
	if msg.Requester != s.instanceID {
		return
	}
	if s.apply(msg.State, msg.meta()) {
		s.log.WithFields(logrus.Fields{"seq": msg.Seq, "from": meta.Source}).Info("Meeting caught up from peer")
	}
}

func (s *MeetingStore) apply(msg MeetingSync, meta eventbus.Meta) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	// 已离开会议或不是同一场会议时不接收远端状态
	if s.meeting == nil || s.meeting.ID != msg.Meeting.ID {
		return false
	}
	if !s.ver.accept(meta) {
		s.log.WithField("seq", meta.Seq).Debug("Stale meeting sync dropped")
		return false
	}
	m := msg.Meeting
	s.meeting = &m
	return true
}

// ResyncTo 把当前会议连同版本发给新打开的实例 requester。没有会议或从未变更时不应答。
func (s *MeetingStore) ResyncTo(requester string) {
	s.mu.Lock()
	if s.meeting == nil || s.ver.seq == 0 {
		s.mu.Unlock()
		return
	}
	msg := Resync[MeetingSync]{
		Requester: requester,
		Seq:       s.ver.seq,
		Origin:    s.ver.source,
		State:     MeetingSync{Meeting: cloneMeeting(*s.meeting)},
	}
	s.mu.Unlock()

	s.bus.Publish(eventbus.EventMeetingResync, msg, eventbus.Meta{Source: s.instanceID, Seq: msg.Seq})
}

// mutate 在锁内执行 fn，释放锁之后再发布新状态。
// fn 返回 false 表示没有发生变更。
func (s *MeetingStore) mutate(fn func(m *domain.Meeting) (bool, error)) error {
	s.mu.Lock()
	if s.meeting == nil {
		s.mu.Unlock()
		return ErrNoActiveMeeting
	}
	changed, err := fn(s.meeting)
	if err != nil || !changed {
		s.mu.Unlock()
		return err
	}
	meta := s.ver.next(s.instanceID)
	snapshot := cloneMeeting(*s.meeting)
	s.mu.Unlock()

	s.bus.Publish(eventbus.EventMeetingSync, MeetingSync{Meeting: snapshot}, meta)
	return nil
}

// SetMeeting 设置当前会议 (进入会议时调用)，不广播。
func (s *MeetingStore) SetMeeting(m domain.Meeting) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.OriginalHostID == "" {
		m.OriginalHostID = m.HostID
	}
	if !m.ViewMode.Valid() {
		m.ViewMode = domain.ViewGallery
	}
	cp := cloneMeeting(m)
	s.meeting = &cp
}

// Meeting 返回当前会议的副本，离开会议后 ok 为 false。
func (s *MeetingStore) Meeting() (domain.Meeting, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.meeting == nil {
		return domain.Meeting{}, false
	}
	return cloneMeeting(*s.meeting), true
}

// LeaveMeeting 把会议置空。参会者、聊天等其他状态不受影响。
func (s *MeetingStore) LeaveMeeting() {
	s.mu.Lock()
	s.meeting = nil
	s.mu.Unlock()
}

// ExtendMeetingTime 把会议时长增加 minutes 分钟并广播。
func (s *MeetingStore) ExtendMeetingTime(minutes int) error {
	if minutes <= 0 {
		return ErrInvalidDuration
	}
	return s.mutate(func(m *domain.Meeting) (bool, error) {
		m.DurationMinutes += minutes
		return true, nil
	})
}

// SetViewMode 切换布局
func (s *MeetingStore) SetViewMode(mode domain.ViewMode) error {
	if !mode.Valid() {
		return ErrInvalidViewMode
	}
	return s.mutate(func(m *domain.Meeting) (bool, error) {
		if m.ViewMode == mode {
			return false, nil
		}
		m.ViewMode = mode
		return true, nil
	})
}

// ToggleRecording 切换录制状态，返回切换后的值。
func (s *MeetingStore) ToggleRecording() (bool, error) {
	var recording bool
	err := s.mutate(func(m *domain.Meeting) (bool, error) {
		m.IsRecording = !m.IsRecording
		if m.IsRecording {
			t := s.now()
			m.RecordingStartedAt = &t
		} else {
			m.RecordingStartedAt = nil
		}
		recording = m.IsRecording
		return true, nil
	})
	return recording, err
}

// ToggleScreenShare 切换屏幕共享状态，返回切换后的值。
func (s *MeetingStore) ToggleScreenShare() (bool, error) {
	var sharing bool
	err := s.mutate(func(m *domain.Meeting) (bool, error) {
		m.IsScreenSharing = !m.IsScreenSharing
		sharing = m.IsScreenSharing
		return true, nil
	})
	return sharing, err
}

// SetHostID 更新当前主持人
func (s *MeetingStore) SetHostID(id string) error {
	return s.mutate(func(m *domain.Meeting) (bool, error) {
		if m.HostID == id {
			return false, nil
		}
		m.HostID = id
		return true, nil
	})
}

// HostID 返回当前主持人 ID，没有会议时为空
func (s *MeetingStore) HostID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.meeting == nil {
		return ""
	}
	return s.meeting.HostID
}

// OriginalHostID 返回创建会议的主持人 ID
func (s *MeetingStore) OriginalHostID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.meeting == nil {
		return ""
	}
	return s.meeting.OriginalHostID
}

// Settings 返回会议设置
func (s *MeetingStore) Settings() domain.MeetingSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.meeting == nil {
		return domain.MeetingSettings{}
	}
	return s.meeting.Settings
}

// WaitingRoomEnabled 报告是否开启了等候室
func (s *MeetingStore) WaitingRoomEnabled() bool {
	return s.Settings().EnableWaitingRoom
}

// AddReaction 添加一个表情反应，并在 TTL 之后自动移除。
func (s *MeetingStore) AddReaction(participantID, emoji string) domain.Reaction {
	r := domain.Reaction{
		ID:            uuid.NewString(),
		ParticipantID: participantID,
		Emoji:         emoji,
		Timestamp:     s.now(),
	}
	s.mu.Lock()
	s.reactions = append(s.reactions, r)
	id := r.ID
	s.timers[id] = time.AfterFunc(s.reactionTTL, func() {
		_ = s.RemoveReaction(id)
	})
	s.mu.Unlock()

	s.bus.Publish(eventbus.EventReactionAdded, r, eventbus.Meta{Source: s.instanceID})
	return r
}

// RemoveReaction 按 ID 移除表情反应
func (s *MeetingStore) RemoveReaction(id string) error {
	s.mu.Lock()
	idx := -1
	for i, r := range s.reactions {
		if r.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return ErrReactionNotFound
	}
	s.reactions = append(s.reactions[:idx], s.reactions[idx+1:]...)
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()

	s.bus.Publish(eventbus.EventReactionRemoved, ReactionRemoved{ID: id}, eventbus.Meta{Source: s.instanceID})
	return nil
}

// Reactions 返回当前正在显示的表情反应
func (s *MeetingStore) Reactions() []domain.Reaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Reaction, len(s.reactions))
	copy(out, s.reactions)
	return out
}

// ClearReactions 清空所有表情反应并停止计时器
func (s *MeetingStore) ClearReactions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.reactions = nil
}

func cloneMeeting(m domain.Meeting) domain.Meeting {
	if m.RecordingStartedAt != nil {
		t := *m.RecordingStartedAt
		m.RecordingStartedAt = &t
	}
	if m.EndedAt != nil {
		t := *m.EndedAt
		m.EndedAt = &t
	}
	return m
}
