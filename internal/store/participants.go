package store

import (
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/221fa04357-prog/connect-pro/internal/domain"
	"github.com/221fa04357-prog/connect-pro/internal/eventbus"
)

// HostTracker 是参会者状态需要的会议侧信息。MeetingStore 实现了它。
type HostTracker interface {
	SetHostID(id string) error
	OriginalHostID() string
	WaitingRoomEnabled() bool
}

// ParticipantsSync 是 participants:sync 事件的载荷，也是 Snapshot 的返回值。
type ParticipantsSync struct {
	Participants    []domain.Participant            `json:"participants"`
	TransientRoles  map[string]domain.Role          `json:"transientRoles"`
	WaitingRoom     []domain.WaitingRoomParticipant `json:"waitingRoom"`
	ActiveSpeakerID string                          `json:"activeSpeakerId,omitempty"`
	PinnedID        string                          `json:"pinnedParticipantId,omitempty"`
	SpotlightedID   string                          `json:"spotlightedParticipantId,omitempty"`
}

// ParticipantsStore 管理会议中的参会者名单和等候室。
// 会话内的角色变更只写入 transientRoles，Participant.Role 保持加入时的角色。
type ParticipantsStore struct {
	mu             sync.Mutex
	instanceID     string
	bus            *eventbus.Bus
	meeting        HostTracker
	participants   []domain.Participant
	waitingRoom    []domain.WaitingRoomParticipant
	transientRoles map[string]domain.Role
	activeSpeaker  string
	pinned         string
	spotlighted    string
	ver            version
	now            Clock
	unsubscribe    []func()
	log            *logrus.Entry
}

// ParticipantsOption 定制 ParticipantsStore
type ParticipantsOption func(*ParticipantsStore)

// WithParticipantsClock 替换时钟
func WithParticipantsClock(c Clock) ParticipantsOption {
	return func(s *ParticipantsStore) { s.now = c }
}

// NewParticipantsStore 创建参会者 Store 并订阅其他实例的 participants:sync。
func NewParticipantsStore(bus *eventbus.Bus, instanceID string, meeting HostTracker, opts ...ParticipantsOption) *ParticipantsStore {
	if bus == nil {
		panic("event bus cannot be nil for ParticipantsStore")
	}
	if meeting == nil {
		panic("HostTracker cannot be nil for ParticipantsStore")
	}
	s := &ParticipantsStore{
		instanceID:     instanceID,
		bus:            bus,
		meeting:        meeting,
		transientRoles: make(map[string]domain.Role),
		now:            time.Now,
		log:            logrus.WithFields(logrus.Fields{"component": "participants_store", "instance": instanceID}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.unsubscribe = []func(){
		bus.Subscribe(eventbus.EventParticipantsSync, s.onRemoteSync),
		bus.Subscribe(eventbus.EventParticipantsResync, s.onResync),
	}
	return s
}

// Close 取消对总线的订阅
func (s *ParticipantsStore) Close() {
	for _, unsubscribe := range s.unsubscribe {
		unsubscribe()
	}
}

func (s *ParticipantsStore) onRemoteSync(payload any, meta eventbus.Meta) {
	if meta.Source == s.instanceID {
		return
	}
	msg, err := eventbus.Decode[ParticipantsSync](payload)
	if err != nil {
		s.log.WithError(err).Warn("Ignoring malformed participants sync")
		return
	}
	s.apply(msg, meta)
}

// onResync 只应用发给本实例的定向快照
func (s *ParticipantsStore) onResync(payload any, meta eventbus.Meta) {
	if meta.Source == s.instanceID {
		return
	}
	msg, err := eventbus.Decode[Resync[ParticipantsSync]](payload)
	if err != nil {
		s.log.WithError(err).Warn("Ignoring malformed participants resync")
		return
	}
	if msg.Requester != s.instanceID {
		return
	}
	if s.apply(msg.State, msg.meta()) {
		s.log.WithFields(logrus.Fields{"seq": msg.Seq, "from": meta.Source}).Info("Participants caught up from peer")
	}
}

// apply 在远端版本更新时整体替换本地状态
func (s *ParticipantsStore) apply(msg ParticipantsSync, meta eventbus.Meta) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ver.accept(meta) {
		s.log.WithFields(logrus.Fields{"seq": meta.Seq, "source": meta.Source}).Debug("Stale participants sync dropped")
		return false
	}
	s.participants = msg.Participants
	s.waitingRoom = msg.WaitingRoom
	s.transientRoles = msg.TransientRoles
	if s.transientRoles == nil {
		s.transientRoles = make(map[string]domain.Role)
	}
	s.activeSpeaker = msg.ActiveSpeakerID
	s.pinned = msg.PinnedID
	s.spotlighted = msg.SpotlightedID
	return true
}

// ResyncTo 把当前快照连同版本发给新打开的实例 requester。本实例还没有任何状态时不应答。
func (s *ParticipantsStore) ResyncTo(requester string) {
	s.mu.Lock()
	if s.ver.seq == 0 {
		s.mu.Unlock()
		return
	}
	msg := Resync[ParticipantsSync]{
		Requester: requester,
		Seq:       s.ver.seq,
		Origin:    s.ver.source,
		State:     s.snapshotLocked(),
	}
	s.mu.Unlock()

	s.bus.Publish(eventbus.EventParticipantsResync, msg, eventbus.Meta{Source: s.instanceID, Seq: msg.Seq})
}

// mutate 在锁内执行 fn，有变更时在释放锁后发布完整快照。
func (s *ParticipantsStore) mutate(fn func() (bool, error)) error {
	s.mu.Lock()
	changed, err := fn()
	if err != nil || !changed {
		s.mu.Unlock()
		return err
	}
	meta := s.ver.next(s.instanceID)
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.bus.Publish(eventbus.EventParticipantsSync, snapshot, meta)
	return nil
}

func (s *ParticipantsStore) snapshotLocked() ParticipantsSync {
	out := ParticipantsSync{
		Participants:    make([]domain.Participant, len(s.participants)),
		WaitingRoom:     make([]domain.WaitingRoomParticipant, len(s.waitingRoom)),
		TransientRoles:  make(map[string]domain.Role, len(s.transientRoles)),
		ActiveSpeakerID: s.activeSpeaker,
		PinnedID:        s.pinned,
		SpotlightedID:   s.spotlighted,
	}
	copy(out.Participants, s.participants)
	copy(out.WaitingRoom, s.waitingRoom)
	for id, r := range s.transientRoles {
		out.TransientRoles[id] = r
	}
	return out
}

// Snapshot 返回当前状态的深拷贝
func (s *ParticipantsStore) Snapshot() ParticipantsSync {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *ParticipantsStore) indexOf(id string) int {
	for i := range s.participants {
		if s.participants[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *ParticipantsStore) effectiveRoleLocked(i int) domain.Role {
	p := s.participants[i]
	if r, ok := s.transientRoles[p.ID]; ok {
		return r
	}
	return p.Role
}

// Participant 按 ID 查找参会者，返回的 Role 是有效角色。
func (s *ParticipantsStore) Participant(id string) (domain.Participant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return domain.Participant{}, false
	}
	p := s.participants[i]
	p.Role = s.effectiveRoleLocked(i)
	return p, true
}

// EffectiveRole 返回 transientRoles[id]，没有覆盖时返回参会者的基础角色。
func (s *ParticipantsStore) EffectiveRole(id string) (domain.Role, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return "", false
	}
	return s.effectiveRoleLocked(i), true
}

// Count 返回名单人数
func (s *ParticipantsStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.participants)
}

// SetParticipants 整体替换名单。不在新名单中的参会者的角色覆盖一并清除。
func (s *ParticipantsStore) SetParticipants(ps []domain.Participant) {
	_ = s.mutate(func() (bool, error) {
		s.participants = make([]domain.Participant, len(ps))
		copy(s.participants, ps)
		for id := range s.transientRoles {
			if s.indexOf(id) < 0 {
				delete(s.transientRoles, id)
			}
		}
		if s.indexOf(s.activeSpeaker) < 0 {
			s.activeSpeaker = ""
		}
		if s.indexOf(s.pinned) < 0 {
			s.pinned = ""
		}
		if s.indexOf(s.spotlighted) < 0 {
			s.spotlighted = ""
		}
		s.syncFlagsLocked()
		return true, nil
	})
}

// syncFlagsLocked 按 activeSpeaker、pinned、spotlighted 重新计算每个人的标记
func (s *ParticipantsStore) syncFlagsLocked() {
	for i := range s.participants {
		id := s.participants[i].ID
		s.participants[i].IsSpeaking = id == s.activeSpeaker
		s.participants[i].IsPinned = id == s.pinned
		s.participants[i].IsSpotlighted = id == s.spotlighted
	}
}

// AddParticipant 把参会者加入名单。会议开启等候室且基础角色是 participant 时，
// 改为放入等候室，此时 waiting 为 true。已在名单中的 ID 再次加入时直接覆盖原有记录，不进等候室。
func (s *ParticipantsStore) AddParticipant(p domain.Participant) (waiting bool, err error) {
	if p.ID == "" {
		return false, ErrParticipantNotFound
	}
	if p.Role == "" {
		p.Role = domain.RoleParticipant
	}
	if p.Avatar == "" {
		p.Avatar = domain.DefaultAvatarColor
	}
	if p.JoinedAt.IsZero() {
		p.JoinedAt = s.now()
	}
	// 在拿本 Store 的锁之前读会议设置
	toWaitingRoom := p.Role == domain.RoleParticipant && s.meeting.WaitingRoomEnabled()

	err = s.mutate(func() (bool, error) {
		if i := s.indexOf(p.ID); i >= 0 {
			s.participants[i] = p
			s.removeWaitingLocked(p.ID)
			s.syncFlagsLocked()
			return true, nil
		}
		if toWaitingRoom {
			for _, w := range s.waitingRoom {
				if w.ID == p.ID {
					waiting = true
					return false, nil
				}
			}
			s.waitingRoom = append(s.waitingRoom, domain.WaitingRoomParticipant{ID: p.ID, Name: p.Name, JoinedAt: p.JoinedAt})
			waiting = true
			return true, nil
		}
		s.participants = append(s.participants, p)
		return true, nil
	})
	if err == nil {
		s.log.WithFields(logrus.Fields{"participant_id": p.ID, "waiting": waiting}).Info("Participant added")
	}
	return waiting, err
}

func (s *ParticipantsStore) removeWaitingLocked(id string) bool {
	for i, w := range s.waitingRoom {
		if w.ID == id {
			s.waitingRoom = append(s.waitingRoom[:i], s.waitingRoom[i+1:]...)
			return true
		}
	}
	return false
}

// RemoveParticipant 把参会者移出名单。当前有效角色为 host 的参会者不能被移除，
// 必须先转移主持人。
func (s *ParticipantsStore) RemoveParticipant(id string) error {
	return s.mutate(func() (bool, error) {
		i := s.indexOf(id)
		if i < 0 {
			return false, ErrParticipantNotFound
		}
		if s.effectiveRoleLocked(i) == domain.RoleHost {
			return false, ErrHostRemoval
		}
		s.participants = append(s.participants[:i], s.participants[i+1:]...)
		delete(s.transientRoles, id)
		if s.activeSpeaker == id {
			s.activeSpeaker = ""
		}
		if s.pinned == id {
			s.pinned = ""
		}
		if s.spotlighted == id {
			s.spotlighted = ""
		}
		return true, nil
	})
}

// update 对单个参会者执行 fn，fn 返回 false 表示无变化。
func (s *ParticipantsStore) update(id string, fn func(p *domain.Participant) bool) error {
	return s.mutate(func() (bool, error) {
		i := s.indexOf(id)
		if i < 0 {
			return false, ErrParticipantNotFound
		}
		return fn(&s.participants[i]), nil
	})
}

// MuteParticipant 将参会者静音
func (s *ParticipantsStore) MuteParticipant(id string) error {
	return s.update(id, func(p *domain.Participant) bool {
		if p.IsAudioMuted {
			return false
		}
		p.IsAudioMuted = true
		return true
	})
}

// UnmuteParticipant 取消参会者静音
func (s *ParticipantsStore) UnmuteParticipant(id string) error {
	return s.update(id, func(p *domain.Participant) bool {
		if !p.IsAudioMuted {
			return false
		}
		p.IsAudioMuted = false
		return true
	})
}

// MuteAll 将所有人静音
func (s *ParticipantsStore) MuteAll() {
	s.setAllMuted(true)
}

// UnmuteAll 取消所有人静音
func (s *ParticipantsStore) UnmuteAll() {
	s.setAllMuted(false)
}

func (s *ParticipantsStore) setAllMuted(muted bool) {
	_ = s.mutate(func() (bool, error) {
		changed := false
		for i := range s.participants {
			if s.participants[i].IsAudioMuted != muted {
				s.participants[i].IsAudioMuted = muted
				changed = true
			}
		}
		return changed, nil
	})
}

// AllMuted 当名单非空且所有人都静音时为 true
func (s *ParticipantsStore) AllMuted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.participants) == 0 {
		return false
	}
	for _, p := range s.participants {
		if !p.IsAudioMuted {
			return false
		}
	}
	return true
}

// UpdateVideo 设置参会者的视频开关
func (s *ParticipantsStore) UpdateVideo(id string, videoOff bool) error {
	return s.update(id, func(p *domain.Participant) bool {
		if p.IsVideoOff == videoOff {
			return false
		}
		p.IsVideoOff = videoOff
		return true
	})
}

// ToggleVideo 切换参会者的视频，返回切换后的 IsVideoOff。
func (s *ParticipantsStore) ToggleVideo(id string) (bool, error) {
	var off bool
	err := s.update(id, func(p *domain.Participant) bool {
		p.IsVideoOff = !p.IsVideoOff
		off = p.IsVideoOff
		return true
	})
	return off, err
}

// ToggleHandRaise 切换举手状态，返回切换后的值。
func (s *ParticipantsStore) ToggleHandRaise(id string) (bool, error) {
	var raised bool
	err := s.update(id, func(p *domain.Participant) bool {
		p.IsHandRaised = !p.IsHandRaised
		raised = p.IsHandRaised
		return true
	})
	return raised, err
}

// LowerHand 放下举手
func (s *ParticipantsStore) LowerHand(id string) error {
	return s.update(id, func(p *domain.Participant) bool {
		if !p.IsHandRaised {
			return false
		}
		p.IsHandRaised = false
		return true
	})
}

// SetActiveSpeaker 设置当前发言人，id 为空表示没有人发言。
func (s *ParticipantsStore) SetActiveSpeaker(id string) error {
	return s.mutate(func() (bool, error) {
		if id != "" && s.indexOf(id) < 0 {
			return false, ErrParticipantNotFound
		}
		if s.activeSpeaker == id {
			return false, nil
		}
		s.activeSpeaker = id
		for i := range s.participants {
			s.participants[i].IsSpeaking = s.participants[i].ID == id
		}
		return true, nil
	})
}

// ActiveSpeaker 返回当前发言人 ID
func (s *ParticipantsStore) ActiveSpeaker() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeSpeaker
}

// Pin 固定一个参会者，同一时间只有一个被固定。
func (s *ParticipantsStore) Pin(id string) error {
	return s.mutate(func() (bool, error) {
		if s.indexOf(id) < 0 {
			return false, ErrParticipantNotFound
		}
		s.pinned = id
		for i := range s.participants {
			s.participants[i].IsPinned = s.participants[i].ID == id
		}
		return true, nil
	})
}

// Unpin 取消固定
func (s *ParticipantsStore) Unpin() {
	_ = s.mutate(func() (bool, error) {
		s.pinned = ""
		for i := range s.participants {
			s.participants[i].IsPinned = false
		}
		return true, nil
	})
}

// Spotlight 聚焦一个参会者，同一时间只有一个被聚焦。
func (s *ParticipantsStore) Spotlight(id string) error {
	return s.mutate(func() (bool, error) {
		if s.indexOf(id) < 0 {
			return false, ErrParticipantNotFound
		}
		s.spotlighted = id
		for i := range s.participants {
			s.participants[i].IsSpotlighted = s.participants[i].ID == id
		}
		return true, nil
	})
}

// Unspotlight 取消聚焦
func (s *ParticipantsStore) Unspotlight() {
	_ = s.mutate(func() (bool, error) {
		s.spotlighted = ""
		for i := range s.participants {
			s.participants[i].IsSpotlighted = false
		}
		return true, nil
	})
}

// AdmitFromWaitingRoom 把等候室中的人加入名单，新参会者默认静音、关闭视频。
// 等候室中没有该 ID 时什么也不做，admitted 为 false。
func (s *ParticipantsStore) AdmitFromWaitingRoom(id string) (admitted bool, err error) {
	err = s.mutate(func() (bool, error) {
		idx := -1
		for i, w := range s.waitingRoom {
			if w.ID == id {
				idx = i
				break
			}
		}
		if idx < 0 {
			return false, nil
		}
		w := s.waitingRoom[idx]
		s.waitingRoom = append(s.waitingRoom[:idx], s.waitingRoom[idx+1:]...)
		admitted = true
		// 已在名单中的人只需离开等候室
		if s.indexOf(w.ID) >= 0 {
			return true, nil
		}
		s.participants = append(s.participants, domain.Participant{
			ID:           w.ID,
			Name:         w.Name,
			Role:         domain.RoleParticipant,
			IsAudioMuted: true,
			IsVideoOff:   true,
			Avatar:       domain.DefaultAvatarColor,
			JoinedAt:     s.now(),
		})
		return true, nil
	})
	return admitted, err
}

// DenyFromWaitingRoom 把人从等候室移除
func (s *ParticipantsStore) DenyFromWaitingRoom(id string) bool {
	denied := false
	_ = s.mutate(func() (bool, error) {
		denied = s.removeWaitingLocked(id)
		return denied, nil
	})
	return denied
}

// WaitingRoom 返回等候室的副本
func (s *ParticipantsStore) WaitingRoom() []domain.WaitingRoomParticipant {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.WaitingRoomParticipant, len(s.waitingRoom))
	copy(out, s.waitingRoom)
	return out
}

// MakeHost 把 id 设为主持人，其他有效角色为 host 的人降为 participant，
// 并同步会议的 hostId。
func (s *ParticipantsStore) MakeHost(id string) error {
	promoted := false
	err := s.mutate(func() (bool, error) {
		i := s.indexOf(id)
		if i < 0 {
			return false, ErrParticipantNotFound
		}
		if s.effectiveRoleLocked(i) == domain.RoleHost {
			return false, nil
		}
		for j := range s.participants {
			if j != i && s.effectiveRoleLocked(j) == domain.RoleHost {
				s.transientRoles[s.participants[j].ID] = domain.RoleParticipant
			}
		}
		s.transientRoles[id] = domain.RoleHost
		promoted = true
		return true, nil
	})
	if err != nil || !promoted {
		return err
	}
	s.syncHostID(id)
	return nil
}

// MakeCoHost 把 id 设为联席主持人。当前主持人不能通过这种方式降级。
func (s *ParticipantsStore) MakeCoHost(id string) error {
	return s.mutate(func() (bool, error) {
		i := s.indexOf(id)
		if i < 0 {
			return false, ErrParticipantNotFound
		}
		switch s.effectiveRoleLocked(i) {
		case domain.RoleHost:
			return false, ErrHostRoleChange
		case domain.RoleCoHost:
			return false, nil
		}
		s.transientRoles[id] = domain.RoleCoHost
		return true, nil
	})
}

// RevokeHost 收回 id 的主持人身份并交还给会议的原主持人。
func (s *ParticipantsStore) RevokeHost(id string) error {
	original := s.meeting.OriginalHostID()
	revoked := false
	err := s.mutate(func() (bool, error) {
		i := s.indexOf(id)
		if i < 0 {
			return false, ErrParticipantNotFound
		}
		if s.effectiveRoleLocked(i) != domain.RoleHost {
			return false, nil
		}
		if id == original {
			return false, ErrHostRoleChange
		}
		if s.indexOf(original) < 0 {
			return false, ErrParticipantNotFound
		}
		s.transientRoles[id] = domain.RoleParticipant
		s.transientRoles[original] = domain.RoleHost
		revoked = true
		return true, nil
	})
	if err != nil || !revoked {
		return err
	}
	s.syncHostID(original)
	return nil
}

// RevokeCoHost 把联席主持人降为 participant
func (s *ParticipantsStore) RevokeCoHost(id string) error {
	return s.mutate(func() (bool, error) {
		i := s.indexOf(id)
		if i < 0 {
			return false, ErrParticipantNotFound
		}
		if s.effectiveRoleLocked(i) != domain.RoleCoHost {
			return false, nil
		}
		s.transientRoles[id] = domain.RoleParticipant
		return true, nil
	})
}

// syncHostID 在释放本 Store 的锁之后更新会议的 hostId
func (s *ParticipantsStore) syncHostID(id string) {
	if err := s.meeting.SetHostID(id); err != nil && !errors.Is(err, ErrNoActiveMeeting) {
		s.log.WithError(err).WithField("participant_id", id).Warn("Failed to update meeting host")
	}
}
