package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/221fa04357-prog/connect-pro/internal/domain"
	"github.com/221fa04357-prog/connect-pro/internal/repository"
	"github.com/221fa04357-prog/connect-pro/internal/repository/mocks"
	"github.com/221fa04357-prog/connect-pro/internal/room"
	"github.com/221fa04357-prog/connect-pro/internal/service"
	"github.com/221fa04357-prog/connect-pro/internal/store"
)

type meetingFixture struct {
	svc         *service.MeetingService
	meetingRepo *mocks.MeetingRepository
	chatRepo    *mocks.ChatRepository
	rooms       *room.Registry
	clock       *testClock
}

func newMeetingFixture(t *testing.T) *meetingFixture {
	t.Helper()
	f := &meetingFixture{
		meetingRepo: mocks.NewMeetingRepository(t),
		chatRepo:    mocks.NewChatRepository(t),
		rooms:       room.NewRegistry(room.Options{}),
		clock:       newTestClock(),
	}
	f.svc = service.NewMeetingService(f.meetingRepo, f.chatRepo, f.rooms).WithClock(f.clock.Now)
	t.Cleanup(f.rooms.CloseAll)
	return f
}

func hostUser() domain.User {
	return domain.User{ID: "host-1", Name: "Hana", Email: "hana@example.com"}
}

// storedMeeting 返回一场已保存在数据库中的会议
func storedMeeting(id string, settings domain.MeetingSettings) *domain.Meeting {
	return &domain.Meeting{
		ID:              id,
		Title:           "Design review",
		HostID:          "host-1",
		OriginalHostID:  "host-1",
		StartTime:       time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
		DurationMinutes: 45,
		Settings:        settings,
		ViewMode:        domain.ViewGallery,
	}
}

func TestMeetingService_Create(t *testing.T) {
	f := newMeetingFixture(t)
	ctx := context.Background()
	var saved *domain.Meeting
	f.meetingRepo.On("Save", ctx, mock.AnythingOfType("*domain.Meeting")).
		Run(func(args mock.Arguments) { saved = args.Get(1).(*domain.Meeting) }).
		Return(nil).Once()

	m, err := f.svc.Create(ctx, hostUser(), service.CreateMeetingInput{Title: "  Standup ", Password: "secret"})

	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, "Standup", m.Title)
	assert.Equal(t, service.DefaultMeetingDuration, m.DurationMinutes, "未指定时长时使用默认值")
	assert.Equal(t, "host-1", m.HostID)
	assert.Equal(t, "host-1", m.OriginalHostID)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(saved.Password), []byte("secret")), "会议密码应以哈希保存")

	r, ok := f.svc.Room(m.ID)
	require.True(t, ok, "创建会议后房间应处于打开状态")
	host, ok := r.Participants.Participant("host-1")
	require.True(t, ok, "主持人应在参会者名单中")
	assert.Equal(t, domain.RoleHost, host.Role)
	assert.Equal(t, "Hana", host.Name)
}

func TestMeetingService_Create_InvalidInput(t *testing.T) {
	f := newMeetingFixture(t)
	_, err := f.svc.Create(context.Background(), hostUser(), service.CreateMeetingInput{Title: " "})
	assert.ErrorIs(t, err, service.ErrInvalidInput)
	_, err = f.svc.Create(context.Background(), hostUser(), service.CreateMeetingInput{Title: "x", DurationMinutes: -5})
	assert.ErrorIs(t, err, service.ErrInvalidInput)
	f.meetingRepo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestMeetingService_Join_RestoresChatAndAdmits(t *testing.T) {
	f := newMeetingFixture(t)
	ctx := context.Background()
	f.meetingRepo.On("FindByID", ctx, "m-1").Return(storedMeeting("m-1", domain.MeetingSettings{}), nil).Twice()
	history := []domain.ChatMessage{
		{ID: "c-1", MeetingID: "m-1", SenderID: "host-1", SenderName: "Hana", Content: "hello", Type: domain.ChatPublic},
	}
	f.chatRepo.On("ListByMeeting", ctx, "m-1", mock.AnythingOfType("int")).Return(history, nil).Once()

	guest, err := f.svc.Join(ctx, "m-1", service.JoinMeetingInput{Name: "Guest"})
	require.NoError(t, err)
	assert.False(t, guest.Waiting)
	assert.NotEmpty(t, guest.ParticipantID, "访客应获得随机参会者 ID")

	host, err := f.svc.Join(ctx, "m-1", service.JoinMeetingInput{Name: "Hana", UserID: "host-1"})
	require.NoError(t, err)
	assert.Equal(t, "host-1", host.ParticipantID)

	r, ok := f.svc.Room("m-1")
	require.True(t, ok)
	role, _ := r.Participants.EffectiveRole("host-1")
	assert.Equal(t, domain.RoleHost, role, "原主持人重新入会时仍是主持人")
	assert.Len(t, r.Chat.Messages(), 1, "新打开的房间应恢复聊天记录")
	assert.Equal(t, 2, r.Participants.Count())
}

func TestMeetingService_Join_WaitingRoom(t *testing.T) {
	f := newMeetingFixture(t)
	ctx := context.Background()
	f.meetingRepo.On("FindByID", ctx, "m-1").Return(storedMeeting("m-1", domain.MeetingSettings{EnableWaitingRoom: true}), nil).Once()
	f.chatRepo.On("ListByMeeting", ctx, "m-1", mock.AnythingOfType("int")).Return(nil, nil).Once()

	res, err := f.svc.Join(ctx, "m-1", service.JoinMeetingInput{Name: "Walt", UserID: "user-9"})

	require.NoError(t, err)
	assert.True(t, res.Waiting, "开启等候室时普通参会者应进入等候室")
	r, _ := f.svc.Room("m-1")
	assert.Equal(t, 0, r.Participants.Count())
	require.Len(t, r.Participants.WaitingRoom(), 1)
	assert.Equal(t, "user-9", r.Participants.WaitingRoom()[0].ID)
}

func TestMeetingService_Join_Rejections(t *testing.T) {
	f := newMeetingFixture(t)
	ctx := context.Background()

	protected := storedMeeting("m-pw", domain.MeetingSettings{})
	hashed, err := bcrypt.GenerateFromPassword([]byte("letmein"), bcrypt.MinCost)
	require.NoError(t, err)
	protected.Password = string(hashed)
	ended := storedMeeting("m-ended", domain.MeetingSettings{})
	endedAt := time.Now()
	ended.EndedAt = &endedAt

	f.meetingRepo.On("FindByID", ctx, "m-pw").Return(protected, nil).Once()
	f.meetingRepo.On("FindByID", ctx, "m-ended").Return(ended, nil).Once()
	f.meetingRepo.On("FindByID", ctx, "missing").Return(nil, repository.ErrMeetingNotFound).Once()

	_, err = f.svc.Join(ctx, "m-pw", service.JoinMeetingInput{Name: "Eve", Password: "guess"})
	assert.ErrorIs(t, err, service.ErrInvalidMeetingPassword)
	_, err = f.svc.Join(ctx, "m-ended", service.JoinMeetingInput{Name: "Eve"})
	assert.ErrorIs(t, err, service.ErrMeetingEnded)
	_, err = f.svc.Join(ctx, "missing", service.JoinMeetingInput{Name: "Eve"})
	assert.ErrorIs(t, err, service.ErrMeetingNotFound)
	_, err = f.svc.Join(ctx, "m-pw", service.JoinMeetingInput{Name: " "})
	assert.ErrorIs(t, err, service.ErrInvalidInput)

	assert.Empty(t, f.rooms.Rooms(), "被拒绝的加入不应打开房间")
}

func TestMeetingService_Leave(t *testing.T) {
	f := newMeetingFixture(t)
	ctx := context.Background()
	f.meetingRepo.On("FindByID", ctx, "m-1").Return(storedMeeting("m-1", domain.MeetingSettings{}), nil).Twice()
	f.chatRepo.On("ListByMeeting", ctx, "m-1", mock.AnythingOfType("int")).Return(nil, nil).Once()

	_, err := f.svc.Join(ctx, "m-1", service.JoinMeetingInput{Name: "Hana", UserID: "host-1"})
	require.NoError(t, err)
	guest, err := f.svc.Join(ctx, "m-1", service.JoinMeetingInput{Name: "Guest"})
	require.NoError(t, err)

	err = f.svc.Leave(ctx, "m-1", "host-1")
	assert.ErrorIs(t, err, store.ErrHostRemoval, "主持人必须先转移主持人身份")
	assert.ErrorIs(t, f.svc.Leave(ctx, "m-1", "nobody"), service.ErrNotInMeeting)

	require.NoError(t, f.svc.Leave(ctx, "m-1", guest.ParticipantID))
	r, ok := f.svc.Room("m-1")
	require.True(t, ok, "仍有人在会中时房间保持打开")
	assert.Equal(t, 1, r.Participants.Count())

	assert.ErrorIs(t, f.svc.Leave(ctx, "other", "host-1"), service.ErrMeetingNotFound)
}

func TestMeetingService_Leave_LastParticipantClosesRoom(t *testing.T) {
	f := newMeetingFixture(t)
	ctx := context.Background()
	f.meetingRepo.On("FindByID", ctx, "m-1").Return(storedMeeting("m-1", domain.MeetingSettings{}), nil).Once()
	f.chatRepo.On("ListByMeeting", ctx, "m-1", mock.AnythingOfType("int")).Return(nil, nil).Once()
	f.meetingRepo.On("SaveBatch", ctx, mock.MatchedBy(func(ms []domain.Meeting) bool {
		return len(ms) == 1 && ms[0].ID == "m-1"
	})).Return(nil).Once()

	guest, err := f.svc.Join(ctx, "m-1", service.JoinMeetingInput{Name: "Guest"})
	require.NoError(t, err)
	r, _ := f.svc.Room("m-1")

	require.NoError(t, f.svc.Leave(ctx, "m-1", guest.ParticipantID))

	_, ok := f.svc.Room("m-1")
	assert.False(t, ok, "最后一人离开后房间应关闭")
	assert.True(t, r.Closed())
}

func TestMeetingService_End(t *testing.T) {
	f := newMeetingFixture(t)
	ctx := context.Background()
	f.meetingRepo.On("FindByID", ctx, "m-1").Return(storedMeeting("m-1", domain.MeetingSettings{}), nil)
	f.chatRepo.On("ListByMeeting", ctx, "m-1", mock.AnythingOfType("int")).Return(nil, nil).Once()

	_, err := f.svc.Join(ctx, "m-1", service.JoinMeetingInput{Name: "Hana", UserID: "host-1"})
	require.NoError(t, err)
	guest, err := f.svc.Join(ctx, "m-1", service.JoinMeetingInput{Name: "Guest"})
	require.NoError(t, err)
	r, _ := f.svc.Room("m-1")
	_, err = r.Meeting.ToggleRecording()
	require.NoError(t, err)

	_, err = f.svc.End(ctx, "m-1", guest.ParticipantID)
	assert.ErrorIs(t, err, service.ErrForbidden, "普通参会者不能结束会议")

	f.meetingRepo.On("Save", ctx, mock.MatchedBy(func(m *domain.Meeting) bool {
		return m.ID == "m-1" && m.EndedAt != nil && !m.IsRecording
	})).Return(nil).Once()
	ended, err := f.svc.End(ctx, "m-1", "host-1")

	require.NoError(t, err)
	require.NotNil(t, ended.EndedAt)
	assert.True(t, ended.EndedAt.Equal(f.clock.Now()))
	assert.True(t, r.Closed(), "结束会议后房间应关闭")
}

func TestMeetingService_End_TransferredHost(t *testing.T) {
	f := newMeetingFixture(t)
	ctx := context.Background()
	f.meetingRepo.On("FindByID", ctx, "m-1").Return(storedMeeting("m-1", domain.MeetingSettings{}), nil)
	f.chatRepo.On("ListByMeeting", ctx, "m-1", mock.AnythingOfType("int")).Return(nil, nil).Once()
	f.meetingRepo.On("Save", ctx, mock.AnythingOfType("*domain.Meeting")).Return(nil).Once()

	_, err := f.svc.Join(ctx, "m-1", service.JoinMeetingInput{Name: "Hana", UserID: "host-1"})
	require.NoError(t, err)
	_, err = f.svc.Join(ctx, "m-1", service.JoinMeetingInput{Name: "Pat", UserID: "user-2"})
	require.NoError(t, err)
	r, _ := f.svc.Room("m-1")
	require.NoError(t, r.Participants.MakeHost("user-2"))

	_, err = f.svc.End(ctx, "m-1", "user-2")
	assert.NoError(t, err, "转移后的主持人可以结束会议")
}

func TestMeetingService_GetAndCheckpoint(t *testing.T) {
	f := newMeetingFixture(t)
	ctx := context.Background()
	f.meetingRepo.On("FindByID", ctx, "m-1").Return(storedMeeting("m-1", domain.MeetingSettings{}), nil).Once()
	f.meetingRepo.On("FindByID", ctx, "m-2").Return(storedMeeting("m-2", domain.MeetingSettings{}), nil).Once()
	f.chatRepo.On("ListByMeeting", ctx, "m-1", mock.AnythingOfType("int")).Return(nil, nil).Once()

	n, err := f.svc.Checkpoint(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "没有房间时不写数据库")

	_, err = f.svc.Join(ctx, "m-1", service.JoinMeetingInput{Name: "Hana", UserID: "host-1"})
	require.NoError(t, err)
	r, _ := f.svc.Room("m-1")
	require.NoError(t, r.Meeting.ExtendMeetingTime(15))

	view, err := f.svc.Get(ctx, "m-1")
	require.NoError(t, err)
	assert.True(t, view.Live)
	assert.Equal(t, 60, view.Meeting.DurationMinutes, "存活房间返回会中的实时数据")
	assert.Equal(t, 1, view.ParticipantCount)

	view, err = f.svc.Get(ctx, "m-2")
	require.NoError(t, err)
	assert.False(t, view.Live)

	f.meetingRepo.On("SaveBatch", ctx, mock.MatchedBy(func(ms []domain.Meeting) bool {
		return len(ms) == 1 && ms[0].DurationMinutes == 60
	})).Return(nil).Once()
	n, err = f.svc.Checkpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
