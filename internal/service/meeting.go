package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/221fa04357-prog/connect-pro/internal/domain"
	"github.com/221fa04357-prog/connect-pro/internal/repository"
	"github.com/221fa04357-prog/connect-pro/internal/room"
	"github.com/221fa04357-prog/connect-pro/internal/store"
)

const (
	// DefaultMeetingDuration 创建会议时未指定时长的默认值 (分钟)
	DefaultMeetingDuration = 60
	// chatHistoryLimit 房间重新打开时从归档恢复的聊天条数
	chatHistoryLimit = 200
)

// CreateMeetingInput 创建会议的参数
type CreateMeetingInput struct {
	Title           string
	DurationMinutes int
	Settings        domain.MeetingSettings
	Password        string
}

// JoinMeetingInput 加入会议的参数。UserID 为空表示访客。
type JoinMeetingInput struct {
	Name     string
	UserID   string
	Password string
}

// JoinResult 是加入会议的结果
type JoinResult struct {
	Meeting       domain.Meeting `json:"meeting"`
	ParticipantID string         `json:"participantId"`
	Waiting       bool           `json:"waiting"`
}

// MeetingView 是查询会议时返回的数据
type MeetingView struct {
	Meeting          domain.Meeting `json:"meeting"`
	Live             bool           `json:"live"`
	ParticipantCount int            `json:"participantCount"`
}

// MeetingService 负责会议的创建、加入、离开和结束，会中状态由 room.Registry 中的房间持有。
type MeetingService struct {
	meetingRepo repository.MeetingRepository
	chatRepo    repository.ChatRepository
	rooms       *room.Registry
	now         store.Clock
}

// NewMeetingService 创建 MeetingService 实例
func NewMeetingService(meetingRepo repository.MeetingRepository, chatRepo repository.ChatRepository, rooms *room.Registry) *MeetingService {
	if meetingRepo == nil || chatRepo == nil || rooms == nil {
		panic("MeetingRepository, ChatRepository and Registry cannot be nil for MeetingService")
	}
	return &MeetingService{
		meetingRepo: meetingRepo,
		chatRepo:    chatRepo,
		rooms:       rooms,
		now:         time.Now,
	}
}

// WithClock 替换时钟，测试使用
func (s *MeetingService) WithClock(c store.Clock) *MeetingService {
	s.now = c
	return s
}

// Room 返回存活的房间
func (s *MeetingService) Room(id string) (*room.Room, bool) {
	return s.rooms.Get(id)
}

// Create 保存会议并打开房间，主持人直接进入参会者列表。
func (s *MeetingService) Create(ctx context.Context, host domain.User, in CreateMeetingInput) (*domain.Meeting, error) {
	title := strings.TrimSpace(in.Title)
	logCtx := logrus.WithFields(logrus.Fields{"host_id": host.ID, "title": title})
	if host.ID == "" || title == "" || in.DurationMinutes < 0 {
		return nil, ErrInvalidInput
	}
	duration := in.DurationMinutes
	if duration == 0 {
		duration = DefaultMeetingDuration
	}

	m := &domain.Meeting{
		ID:              uuid.NewString(),
		Title:           title,
		HostID:          host.ID,
		OriginalHostID:  host.ID,
		StartTime:       s.now().UTC(),
		DurationMinutes: duration,
		Settings:        in.Settings,
		ViewMode:        domain.ViewGallery,
	}
	if in.Password != "" {
		hashed, err := hashPassword(in.Password)
		if err != nil {
			logCtx.WithError(err).Error("Failed to hash meeting password")
			return nil, ErrInternalServer
		}
		m.Password = hashed
	}
	if err := s.meetingRepo.Save(ctx, m); err != nil {
		logCtx.WithError(err).Error("Failed to save meeting")
		return nil, ErrInternalServer
	}

	r, _, err := s.rooms.Open(ctx, *m)
	if err != nil {
		logCtx.WithError(err).Error("Failed to open room for new meeting")
		return nil, ErrInternalServer
	}
	hostName := host.Name
	if hostName == "" {
		hostName = host.Email
	}
	if _, err := r.Participants.AddParticipant(domain.Participant{
		ID:       host.ID,
		Name:     hostName,
		Role:     domain.RoleHost,
		JoinedAt: s.now(),
	}); err != nil {
		logCtx.WithError(err).Error("Failed to add host to roster")
		return nil, ErrInternalServer
	}

	logCtx.WithField("meeting_id", m.ID).Info("Meeting created")
	return m, nil
}

// Get 返回会议。房间存活时返回会中的实时数据。
func (s *MeetingService) Get(ctx context.Context, id string) (*MeetingView, error) {
	if r, ok := s.rooms.Get(id); ok {
		if m, ok := r.Meeting.Meeting(); ok {
			return &MeetingView{Meeting: m, Live: true, ParticipantCount: r.Participants.Count()}, nil
		}
	}
	m, err := s.meetingRepo.FindByID(ctx, id)
	if err != nil {
		return nil, mapRepoError(err, ErrMeetingNotFound)
	}
	return &MeetingView{Meeting: *m}, nil
}

// Join 校验会议密码后把参会者加入房间。开启等候室时普通参会者进入等候室。
// 注册用户以用户 ID 作为参会者 ID，访客获得一个新的随机 ID。
func (s *MeetingService) Join(ctx context.Context, id string, in JoinMeetingInput) (*JoinResult, error) {
	name := strings.TrimSpace(in.Name)
	logCtx := logrus.WithFields(logrus.Fields{"meeting_id": id, "user_id": in.UserID})
	if name == "" {
		return nil, ErrInvalidInput
	}

	m, err := s.meetingRepo.FindByID(ctx, id)
	if err != nil {
		return nil, mapRepoError(err, ErrMeetingNotFound)
	}
	if m.EndedAt != nil {
		return nil, ErrMeetingEnded
	}
	if m.Password != "" && !checkPassword(in.Password, m.Password) {
		logCtx.Warn("Join rejected: invalid meeting password")
		return nil, ErrInvalidMeetingPassword
	}

	r, err := s.openRoom(ctx, *m)
	if err != nil {
		return nil, err
	}

	participantID := in.UserID
	if participantID == "" {
		participantID = uuid.NewString()
	}
	role := domain.RoleParticipant
	if participantID == r.Meeting.OriginalHostID() {
		role = domain.RoleHost
	}
	waiting, err := r.Participants.AddParticipant(domain.Participant{
		ID:       participantID,
		Name:     name,
		Role:     role,
		JoinedAt: s.now(),
	})
	if err != nil {
		logCtx.WithError(err).Error("Failed to add participant")
		return nil, ErrInternalServer
	}

	live, _ := r.Meeting.Meeting()
	logCtx.WithFields(logrus.Fields{"participant_id": participantID, "waiting": waiting}).Info("Participant joined meeting")
	return &JoinResult{Meeting: live, ParticipantID: participantID, Waiting: waiting}, nil
}

// openRoom 打开房间，新建时从归档恢复最近的聊天记录。
func (s *MeetingService) openRoom(ctx context.Context, m domain.Meeting) (*room.Room, error) {
	r, created, err := s.rooms.Open(ctx, m)
	if err != nil {
		logrus.WithField("meeting_id", m.ID).WithError(err).Error("Failed to open room")
		return nil, ErrInternalServer
	}
	if !created {
		return r, nil
	}
	history, err := s.chatRepo.ListByMeeting(ctx, m.ID, chatHistoryLimit)
	if err != nil {
		// 聊天记录恢复失败不影响入会
		logrus.WithField("meeting_id", m.ID).WithError(err).Warn("Failed to restore chat history")
		return r, nil
	}
	for _, msg := range history {
		_ = r.Chat.AddMessage(msg)
	}
	return r, nil
}

// Leave 把参会者移出房间 (或等候室)。最后一人离开时写回会议状态并关闭房间。
func (s *MeetingService) Leave(ctx context.Context, id, participantID string) error {
	r, ok := s.rooms.Get(id)
	if !ok {
		return ErrMeetingNotFound
	}
	logCtx := logrus.WithFields(logrus.Fields{"meeting_id": id, "participant_id": participantID})

	err := r.Participants.RemoveParticipant(participantID)
	switch {
	case errors.Is(err, store.ErrHostRemoval):
		return err
	case errors.Is(err, store.ErrParticipantNotFound):
		if !r.Participants.DenyFromWaitingRoom(participantID) {
			return ErrNotInMeeting
		}
	case err != nil:
		logCtx.WithError(err).Error("Failed to remove participant")
		return ErrInternalServer
	}
	r.Chat.Forget(participantID)
	r.Chat.RemoveTypingUser(participantID)
	logCtx.Info("Participant left meeting")

	if r.Participants.Count() == 0 {
		if m, ok := r.Meeting.Meeting(); ok {
			if err := s.meetingRepo.SaveBatch(ctx, []domain.Meeting{m}); err != nil {
				logCtx.WithError(err).Warn("Failed to checkpoint meeting on last leave")
			}
		}
		s.rooms.Close(id)
	}
	return nil
}

// End 结束会议并关闭房间，只有当前主持人或原主持人可以结束。
func (s *MeetingService) End(ctx context.Context, id, actorID string) (*domain.Meeting, error) {
	logCtx := logrus.WithFields(logrus.Fields{"meeting_id": id, "actor_id": actorID})

	m, err := s.meetingRepo.FindByID(ctx, id)
	if err != nil {
		return nil, mapRepoError(err, ErrMeetingNotFound)
	}
	if m.EndedAt != nil {
		return nil, ErrMeetingEnded
	}

	r, live := s.rooms.Get(id)
	if live {
		if current, ok := r.Meeting.Meeting(); ok {
			// 会中字段以房间为准，密码等不在房间里的字段保留数据库中的值
			current.Password = m.Password
			m = &current
		}
	}
	allowed := actorID != "" && (actorID == m.OriginalHostID || actorID == m.HostID)
	if !allowed && live {
		role, ok := r.Participants.EffectiveRole(actorID)
		allowed = ok && role == domain.RoleHost
	}
	if !allowed {
		logCtx.Warn("End meeting rejected: actor is not the host")
		return nil, ErrForbidden
	}

	endedAt := s.now().UTC()
	m.EndedAt = &endedAt
	m.IsRecording = false
	m.RecordingStartedAt = nil
	m.IsScreenSharing = false
	if err := s.meetingRepo.Save(ctx, m); err != nil {
		logCtx.WithError(err).Error("Failed to save ended meeting")
		return nil, ErrInternalServer
	}
	if live {
		s.rooms.Close(id)
	}
	logCtx.Info("Meeting ended")
	return m, nil
}

// Checkpoint 把本进程内所有存活房间的会议状态写回数据库，返回写回的会议数。
func (s *MeetingService) Checkpoint(ctx context.Context) (int, error) {
	rooms := s.rooms.Rooms()
	meetings := make([]domain.Meeting, 0, len(rooms))
	for _, r := range rooms {
		if m, ok := r.Meeting.Meeting(); ok {
			meetings = append(meetings, m)
		}
	}
	if len(meetings) == 0 {
		return 0, nil
	}
	if err := s.meetingRepo.SaveBatch(ctx, meetings); err != nil {
		return 0, err
	}
	return len(meetings), nil
}
