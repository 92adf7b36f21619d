package hub_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/221fa04357-prog/connect-pro/internal/domain"
	"github.com/221fa04357-prog/connect-pro/internal/hub"
	"github.com/221fa04357-prog/connect-pro/internal/room"
	"github.com/221fa04357-prog/connect-pro/internal/service"
)

// registryLookup 把 room.Registry 适配为 hub.RoomLookup
type registryLookup struct {
	rooms *room.Registry
}

func (l registryLookup) Room(id string) (*room.Room, bool) { return l.rooms.Get(id) }

type hubFixture struct {
	hub   *hub.Hub
	rooms *room.Registry
	room  *room.Room
	url   string
}

func newHubFixture(t *testing.T) *hubFixture {
	t.Helper()
	rooms := room.NewRegistry(room.Options{})
	r, _, err := rooms.Open(context.Background(), domain.Meeting{
		ID: "m-1", Title: "Retro", HostID: "host-1", DurationMinutes: 30,
		Settings: domain.MeetingSettings{AllowParticipantsToUnmute: true},
	})
	require.NoError(t, err)
	for _, p := range []domain.Participant{
		{ID: "host-1", Name: "Hana", Role: domain.RoleHost},
		{ID: "user-2", Name: "Pat"},
		{ID: "user-3", Name: "Sam"},
	} {
		_, err := r.Participants.AddParticipant(p)
		require.NoError(t, err)
	}

	h := hub.NewHub(registryLookup{rooms: rooms}, service.NewCommandService(nil))
	go h.Run()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		c := hub.NewClient(h, conn, req.URL.Query().Get("meeting"), req.URL.Query().Get("participant_id"))
		h.QueueMessage(hub.HubMessage{Type: "register", MeetingID: c.MeetingID(), ParticipantID: c.ParticipantID(), Client: c})
		c.Run()
	}))
	t.Cleanup(func() {
		srv.Close()
		rooms.CloseAll()
		h.Stop()
	})
	return &hubFixture{
		hub:   h,
		rooms: rooms,
		room:  r,
		url:   "ws" + strings.TrimPrefix(srv.URL, "http"),
	}
}

func (f *hubFixture) dial(t *testing.T, participantID string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(f.url+"?meeting=m-1&participant_id="+participantID, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil 读取消息直到 match 返回 true
func readUntil(t *testing.T, conn *websocket.Conn, match func(hub.OutboundMessage) bool) hub.OutboundMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err, "在超时前应收到期望的消息")
		var msg hub.OutboundMessage
		require.NoError(t, json.Unmarshal(raw, &msg))
		if match(msg) {
			return msg
		}
	}
}

func ofType(typ string) func(hub.OutboundMessage) bool {
	return func(m hub.OutboundMessage) bool { return m.Type == typ }
}

func send(t *testing.T, conn *websocket.Conn, cmd string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(cmd)))
}

func TestHub_InitialStateAndBroadcast(t *testing.T) {
	f := newHubFixture(t)
	host := f.dial(t, "host-1")
	pat := f.dial(t, "user-2")

	state := readUntil(t, host, ofType(hub.MsgState))
	require.NotNil(t, state.Participants)
	assert.Len(t, state.Participants.Participants, 3)
	require.NotNil(t, state.Meeting)
	assert.Equal(t, "m-1", state.Meeting.ID)
	require.NotNil(t, state.Chat, "已入会的参会者应收到聊天状态")
	readUntil(t, pat, ofType(hub.MsgState))
	require.Eventually(t, func() bool { return f.hub.ClientCount("m-1") == 2 }, time.Second, 10*time.Millisecond)

	send(t, host, `{"type":"mute","target":"user-2"}`)

	msg := readUntil(t, pat, func(m hub.OutboundMessage) bool {
		if m.Type != hub.MsgParticipants {
			return false
		}
		for _, p := range m.Participants.Participants {
			if p.ID == "user-2" {
				return p.IsAudioMuted
			}
		}
		return false
	})
	assert.Equal(t, hub.MsgParticipants, msg.Type)

	send(t, host, `{"type":"extend_time","minutes":10}`)
	meeting := readUntil(t, pat, ofType(hub.MsgMeeting))
	assert.Equal(t, 40, meeting.Meeting.DurationMinutes)
}

func TestHub_CommandErrorGoesToSender(t *testing.T) {
	f := newHubFixture(t)
	pat := f.dial(t, "user-2")
	readUntil(t, pat, ofType(hub.MsgState))

	send(t, pat, `{"type":"mute_all"}`)
	msg := readUntil(t, pat, ofType(hub.MsgError))
	assert.Equal(t, "mute_all", msg.Command)
	assert.Contains(t, msg.Error, "not permitted")

	send(t, pat, `not json`)
	msg = readUntil(t, pat, ofType(hub.MsgError))
	assert.Contains(t, msg.Error, "invalid command")
}

func TestHub_PrivateChatDelivery(t *testing.T) {
	f := newHubFixture(t)
	host := f.dial(t, "host-1")
	pat := f.dial(t, "user-2")
	sam := f.dial(t, "user-3")
	for _, c := range []*websocket.Conn{host, pat, sam} {
		readUntil(t, c, ofType(hub.MsgState))
	}
	require.Eventually(t, func() bool { return f.hub.ClientCount("m-1") == 3 }, time.Second, 10*time.Millisecond)

	send(t, host, `{"type":"chat","chatType":"private","recipientId":"user-2","content":"just for you"}`)
	private := readUntil(t, pat, ofType(hub.MsgChat))
	assert.Equal(t, "just for you", private.Message.Content)

	send(t, host, `{"type":"chat","content":"hello everyone"}`)
	first := readUntil(t, sam, ofType(hub.MsgChat))
	assert.Equal(t, "hello everyone", first.Message.Content, "第三方不应收到私聊")
}

func TestHub_RejectsUnknownParticipant(t *testing.T) {
	f := newHubFixture(t)
	stranger := f.dial(t, "stranger")

	msg := readUntil(t, stranger, ofType(hub.MsgClosed))
	assert.Equal(t, hub.ReasonNotInMeeting, msg.Reason)
}

func TestHub_RemovedParticipantIsEvicted(t *testing.T) {
	f := newHubFixture(t)
	host := f.dial(t, "host-1")
	sam := f.dial(t, "user-3")
	readUntil(t, host, ofType(hub.MsgState))
	readUntil(t, sam, ofType(hub.MsgState))
	require.Eventually(t, func() bool { return f.hub.ClientCount("m-1") == 2 }, time.Second, 10*time.Millisecond)

	send(t, host, `{"type":"remove","target":"user-3"}`)

	msg := readUntil(t, sam, ofType(hub.MsgClosed))
	assert.Equal(t, hub.ReasonRemoved, msg.Reason)
	assert.Eventually(t, func() bool { return f.hub.ClientCount("m-1") == 1 }, time.Second, 10*time.Millisecond)
}

func TestHub_MeetingEndDisconnectsClients(t *testing.T) {
	f := newHubFixture(t)
	pat := f.dial(t, "user-2")
	readUntil(t, pat, ofType(hub.MsgState))
	require.Eventually(t, func() bool { return f.hub.ClientCount("m-1") == 1 }, time.Second, 10*time.Millisecond)

	f.rooms.Close("m-1")

	msg := readUntil(t, pat, ofType(hub.MsgClosed))
	assert.Equal(t, hub.ReasonMeetingEnded, msg.Reason)
	assert.Eventually(t, func() bool { return f.hub.ClientCount("m-1") == 0 }, time.Second, 10*time.Millisecond)
}

// 同一客户端连续发送的命令按发送顺序生效
func TestHub_CommandsFromOneClientApplyInOrder(t *testing.T) {
	f := newHubFixture(t)
	host := f.dial(t, "host-1")
	sam := f.dial(t, "user-3")
	readUntil(t, host, ofType(hub.MsgState))
	readUntil(t, sam, ofType(hub.MsgState))
	require.Eventually(t, func() bool { return f.hub.ClientCount("m-1") == 2 }, time.Second, 10*time.Millisecond)

	const n = 30
	want := make([]string, n)
	for i := 0; i < n; i++ {
		want[i] = fmt.Sprintf("msg-%02d", i)
		send(t, host, fmt.Sprintf(`{"type":"chat","content":%q}`, want[i]))
	}
	// mute 紧跟 unmute，最后一条命令决定最终状态
	for i := 0; i < 10; i++ {
		send(t, host, `{"type":"mute","target":"user-2"}`)
		send(t, host, `{"type":"unmute","target":"user-2"}`)
	}

	got := make([]string, 0, n)
	for len(got) < n {
		msg := readUntil(t, sam, ofType(hub.MsgChat))
		got = append(got, msg.Message.Content)
	}
	assert.Equal(t, want, got, "聊天消息应按发送顺序到达")

	stored := f.room.Chat.Messages()
	require.Len(t, stored, n)
	for i, m := range stored {
		assert.Equal(t, want[i], m.Content)
	}
	assert.Eventually(t, func() bool {
		p, ok := f.room.Participants.Participant("user-2")
		return ok && !p.IsAudioMuted
	}, 2*time.Second, 10*time.Millisecond, "最后一条 unmute 应生效")
}
