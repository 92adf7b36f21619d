// Package hub 把会议房间的状态变化推送给 WebSocket 客户端，并把客户端命令交给 CommandProcessor 执行。
package hub

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/221fa04357-prog/connect-pro/internal/domain"
	"github.com/221fa04357-prog/connect-pro/internal/eventbus"
	"github.com/221fa04357-prog/connect-pro/internal/room"
	"github.com/221fa04357-prog/connect-pro/internal/store"
)

// 包级别的 WebSocket 常量，供 hub 和 client 使用
const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. 聊天内容最长 2000 个字符。
	maxMessageSize = 16 * 1024

	// commandTimeout 单条命令的处理时限
	commandTimeout = 5 * time.Second
)

// HubMessage 定义了在 Hub 内部通道传递的消息类型
type HubMessage struct {
	Type          string  // "register", "unregister", "command"
	MeetingID     string  // 会议 ID
	ParticipantID string  // 来源参会者
	Client        *Client // 发出消息的客户端
	RawData       []byte  // 仅用于 command (原始 WebSocket 消息)
}

// RoomLookup 查找本进程内存活的房间
type RoomLookup interface {
	Room(id string) (*room.Room, bool)
}

// CommandProcessor 执行客户端命令，返回命令类型
type CommandProcessor interface {
	Process(ctx context.Context, r *room.Room, actorID string, raw []byte) (string, error)
}

// roomClients 是一个房间在 Hub 中的连接集合和总线订阅
type roomClients struct {
	room        *room.Room
	clients     map[*Client]bool
	unsubscribe []func()
	stop        chan struct{}
}

// Hub 维护活跃客户端集合并协调消息处理
type Hub struct {
	// 内部通道，处理所有来自 Client 的事件
	messageChan chan HubMessage
	quit        chan struct{}
	quitOnce    sync.Once

	// 按会议 ID 组织的客户端集合
	rooms   map[string]*roomClients
	roomsMu sync.RWMutex

	lookup   RoomLookup
	commands CommandProcessor
	log      *logrus.Entry
}

// NewHub 创建并返回一个新的 Hub 实例
func NewHub(lookup RoomLookup, commands CommandProcessor) *Hub {
	if lookup == nil {
		panic("RoomLookup cannot be nil for Hub")
	}
	if commands == nil {
		panic("CommandProcessor cannot be nil for Hub")
	}
	return &Hub{
		messageChan: make(chan HubMessage, 512),
		quit:        make(chan struct{}),
		rooms:       make(map[string]*roomClients),
		lookup:      lookup,
		commands:    commands,
		log:         logrus.WithField("component", "hub"),
	}
}

// Run 启动 Hub 的主事件处理循环，直到 Stop 被调用。
// 它应该在一个单独的 goroutine 中运行。
func (h *Hub) Run() {
	h.log.Info("Hub is running...")
	for {
		select {
		case msg := <-h.messageChan:
			switch msg.Type {
			case "register":
				h.registerClient(msg.Client)
			case "unregister":
				h.unregisterClient(msg.Client)
			case "command":
				h.dispatchCommand(msg)
			default:
				h.log.Warnf("Hub: Received unknown message type: %s from participant %s in meeting %s", msg.Type, msg.ParticipantID, msg.MeetingID)
			}
		case <-h.quit:
			h.log.Info("Hub is shutting down...")
			return
		}
	}
}

// Stop 结束 Run 循环，可以重复调用
func (h *Hub) Stop() {
	h.quitOnce.Do(func() { close(h.quit) })
}

// registerClient 处理客户端注册逻辑：订阅房间总线并发送初始状态
func (h *Hub) registerClient(client *Client) {
	if client == nil {
		h.log.Error("Hub: Attempted to register a nil client")
		return
	}
	logCtx := client.log.WithField("action", "registerClient")

	r, ok := h.lookup.Room(client.MeetingID())
	if !ok {
		logCtx.Warn("Meeting is not live, rejecting client")
		h.reject(client, ReasonMeetingEnded)
		return
	}
	if !h.isMember(r, client.ParticipantID()) {
		logCtx.Warn("Participant is not in the meeting, rejecting client")
		h.reject(client, ReasonNotInMeeting)
		return
	}

	h.roomsMu.Lock()
	g, exists := h.rooms[r.ID]
	if exists && g.room != r {
		// 同一会议的房间已被关闭并重新打开
		h.detachLocked(r.ID, g)
		exists = false
	}
	if !exists {
		g = h.attachLocked(r)
		logCtx.Info("Client list created for room")
	}
	g.clients[client] = true
	h.roomsMu.Unlock()
	logCtx.Info("Client registered to Hub")

	client.trySend(h.stateFor(r, client.ParticipantID()))
}

// unregisterClient 处理客户端注销逻辑
func (h *Hub) unregisterClient(client *Client) {
	if client == nil {
		h.log.Error("Hub: Attempted to unregister a nil client")
		return
	}
	logCtx := client.log.WithField("action", "unregisterClient")

	h.roomsMu.Lock()
	if g, ok := h.rooms[client.MeetingID()]; ok {
		if _, ok := g.clients[client]; ok {
			delete(g.clients, client)
			if len(g.clients) == 0 {
				h.detachLocked(client.MeetingID(), g)
				logCtx.Info("Room has no clients, detached from bus")
			}
		}
	}
	h.roomsMu.Unlock()
	client.closeSend()
	logCtx.Debug("Client unregistered from Hub")
}

// reject 通知客户端原因后关闭连接，客户端尚未加入任何房间
func (h *Hub) reject(client *Client, reason string) {
	client.trySend(encode(OutboundMessage{Type: MsgClosed, Reason: reason}))
	client.closeSend()
}

// Evict 通知客户端原因后把它移出 Hub，例如访客会话过期
func (h *Hub) Evict(client *Client, reason string) {
	client.trySend(encode(OutboundMessage{Type: MsgClosed, Reason: reason}))
	h.QueueMessage(HubMessage{Type: "unregister", MeetingID: client.MeetingID(), ParticipantID: client.ParticipantID(), Client: client})
}

// attachLocked 订阅房间总线，调用方需持有 roomsMu 写锁
func (h *Hub) attachLocked(r *room.Room) *roomClients {
	g := &roomClients{
		room:    r,
		clients: make(map[*Client]bool),
		stop:    make(chan struct{}),
	}
	g.unsubscribe = []func(){
		r.Bus.Subscribe(eventbus.EventParticipantsSync, func(any, eventbus.Meta) { h.onParticipants(r) }),
		r.Bus.Subscribe(eventbus.EventMeetingSync, func(any, eventbus.Meta) { h.onMeeting(r) }),
		r.Bus.Subscribe(eventbus.EventReactionAdded, func(p any, _ eventbus.Meta) { h.onReactionAdded(r, p) }),
		r.Bus.Subscribe(eventbus.EventReactionRemoved, func(p any, _ eventbus.Meta) { h.onReactionRemoved(r, p) }),
		r.Bus.Subscribe(eventbus.EventChatMessage, func(p any, _ eventbus.Meta) { h.onChatMessage(r, p) }),
		r.Bus.Subscribe(eventbus.EventChatTyping, func(p any, _ eventbus.Meta) { h.onChatTyping(r, p) }),
	}
	h.rooms[r.ID] = g

	go func() {
		select {
		case <-r.Done():
			h.closeRoom(r)
		case <-g.stop:
		}
	}()
	return g
}

// detachLocked 取消总线订阅并移除房间，调用方需持有 roomsMu 写锁
func (h *Hub) detachLocked(id string, g *roomClients) {
	for _, unsub := range g.unsubscribe {
		unsub()
	}
	close(g.stop)
	delete(h.rooms, id)
}

// closeRoom 在房间关闭 (会议结束) 后断开其所有客户端
func (h *Hub) closeRoom(r *room.Room) {
	h.roomsMu.Lock()
	g, ok := h.rooms[r.ID]
	if !ok || g.room != r {
		h.roomsMu.Unlock()
		return
	}
	clients := make([]*Client, 0, len(g.clients))
	for c := range g.clients {
		clients = append(clients, c)
	}
	h.detachLocked(r.ID, g)
	h.roomsMu.Unlock()

	msg := encode(OutboundMessage{Type: MsgClosed, Reason: ReasonMeetingEnded})
	for _, c := range clients {
		c.trySend(msg)
		c.closeSend()
	}
	logrus.WithFields(logrus.Fields{"meeting_id": r.ID, "clients": len(clients)}).Info("Meeting closed, clients disconnected")
}

// clientsOf 返回房间当前客户端的副本
func (h *Hub) clientsOf(r *room.Room) []*Client {
	h.roomsMu.RLock()
	defer h.roomsMu.RUnlock()
	g, ok := h.rooms[r.ID]
	if !ok || g.room != r {
		return nil
	}
	out := make([]*Client, 0, len(g.clients))
	for c := range g.clients {
		out = append(out, c)
	}
	return out
}

// broadcast 将消息发送给房间中满足 filter 的客户端，filter 为 nil 表示全部
func (h *Hub) broadcast(r *room.Room, message []byte, filter func(*Client) bool) {
	clients := h.clientsOf(r)
	for _, c := range clients {
		if filter != nil && !filter(c) {
			continue
		}
		// 非阻塞发送，避免单个慢客户端阻塞广播
		if !c.trySend(message) {
			c.log.Warn("Client send channel full during broadcast, skipping this client")
		}
	}
}

// isMember 报告参会者是否在名单或等候室中
func (h *Hub) isMember(r *room.Room, participantID string) bool {
	if _, ok := r.Participants.Participant(participantID); ok {
		return true
	}
	for _, w := range r.Participants.WaitingRoom() {
		if w.ID == participantID {
			return true
		}
	}
	return false
}

// isAdmitted 报告参会者是否已在会中 (不在等候室)
func isAdmitted(r *room.Room, participantID string) bool {
	_, ok := r.Participants.Participant(participantID)
	return ok
}

// stateFor 构造发给某个参会者的完整初始状态
func (h *Hub) stateFor(r *room.Room, participantID string) []byte {
	snapshot := r.Participants.Snapshot()
	msg := OutboundMessage{
		Type:         MsgState,
		Participants: &snapshot,
		Reactions:    r.Meeting.Reactions(),
	}
	if m, ok := r.Meeting.Meeting(); ok {
		msg.Meeting = &m
	}
	// 等候室中的人看不到聊天
	if isAdmitted(r, participantID) {
		msg.Chat = &ChatState{
			Messages:    r.Chat.VisibleTo(participantID),
			UnreadCount: r.Chat.UnreadCount(participantID),
			ActiveTab:   r.Chat.ActiveTab(participantID),
			TypingUsers: r.Chat.TypingUsers(),
		}
	}
	return encode(msg)
}

// onParticipants 广播最新的参会者快照，并断开已被移出会议的客户端。
// 总线投递顺序不保证与写入顺序一致，这里总是重新读取 Store 的当前状态。
func (h *Hub) onParticipants(r *room.Room) {
	snapshot := r.Participants.Snapshot()
	h.broadcast(r, encode(OutboundMessage{Type: MsgParticipants, Participants: &snapshot}), nil)

	members := make(map[string]bool, len(snapshot.Participants)+len(snapshot.WaitingRoom))
	for _, p := range snapshot.Participants {
		members[p.ID] = true
	}
	for _, w := range snapshot.WaitingRoom {
		members[w.ID] = true
	}
	for _, c := range h.clientsOf(r) {
		if !members[c.ParticipantID()] {
			c.log.Info("Participant no longer in meeting, evicting client")
			h.Evict(c, ReasonRemoved)
		}
	}
}

func (h *Hub) onMeeting(r *room.Room) {
	m, ok := r.Meeting.Meeting()
	if !ok {
		return
	}
	h.broadcast(r, encode(OutboundMessage{Type: MsgMeeting, Meeting: &m}), nil)
}

func (h *Hub) onReactionAdded(r *room.Room, payload any) {
	reaction, err := eventbus.Decode[domain.Reaction](payload)
	if err != nil {
		h.log.WithError(err).Warn("Ignoring malformed reaction event")
		return
	}
	h.broadcast(r, encode(OutboundMessage{Type: MsgReactionAdded, Reaction: &reaction}), nil)
}

func (h *Hub) onReactionRemoved(r *room.Room, payload any) {
	removed, err := eventbus.Decode[store.ReactionRemoved](payload)
	if err != nil {
		h.log.WithError(err).Warn("Ignoring malformed reaction event")
		return
	}
	h.broadcast(r, encode(OutboundMessage{Type: MsgReactionRemoved, ReactionID: removed.ID}), nil)
}

// onChatMessage 私聊只发给发送者和接收者，等候室中的人收不到聊天
func (h *Hub) onChatMessage(r *room.Room, payload any) {
	msg, err := eventbus.Decode[domain.ChatMessage](payload)
	if err != nil {
		h.log.WithError(err).Warn("Ignoring malformed chat event")
		return
	}
	h.broadcast(r, encode(OutboundMessage{Type: MsgChat, Message: &msg}), func(c *Client) bool {
		return msg.VisibleTo(c.ParticipantID()) && isAdmitted(r, c.ParticipantID())
	})
}

func (h *Hub) onChatTyping(r *room.Room, payload any) {
	typing, err := eventbus.Decode[store.ChatTyping](payload)
	if err != nil {
		h.log.WithError(err).Warn("Ignoring malformed typing event")
		return
	}
	users := typing.TypingUsers
	if users == nil {
		users = []string{}
	}
	h.broadcast(r, encode(OutboundMessage{Type: MsgTyping, TypingUsers: users}), func(c *Client) bool {
		return isAdmitted(r, c.ParticipantID())
	})
}

// dispatchCommand 把命令放入发送者自己的队列。
// 每个客户端一个 worker，同一客户端的命令按到达顺序执行，Store 锁不会阻塞主循环。
func (h *Hub) dispatchCommand(msg HubMessage) {
	c := msg.Client
	if c == nil {
		h.log.Warnf("Hub: Dropping command without client from participant %s", msg.ParticipantID)
		return
	}
	c.workerOnce.Do(func() { go h.runCommands(c) })
	select {
	case c.commands <- msg:
	default:
		c.log.Warn("Client command queue full, dropping command")
		h.sendError(c, "", errors.New("server busy, command dropped"))
	}
}

// runCommands 依次执行一个客户端的命令，客户端断开或 Hub 停止后退出
func (h *Hub) runCommands(c *Client) {
	for {
		select {
		case msg := <-c.commands:
			h.handleCommand(msg)
		case <-c.done:
			return
		case <-h.quit:
			return
		}
	}
}

// handleCommand 执行客户端命令，失败时只通知发送者。
// 成功的命令通过房间总线广播，这里不需要再发送。
func (h *Hub) handleCommand(msg HubMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	logCtx := logrus.WithFields(logrus.Fields{
		"meeting_id":     msg.MeetingID,
		"participant_id": msg.ParticipantID,
		"operation":      "handleCommand",
	})

	r, ok := h.lookup.Room(msg.MeetingID)
	if !ok {
		h.sendError(msg.Client, "", errors.New("meeting is not live"))
		return
	}
	cmdType, err := h.commands.Process(ctx, r, msg.ParticipantID, msg.RawData)
	if err != nil {
		logCtx.WithError(err).WithField("command", cmdType).Debug("Command failed")
		h.sendError(msg.Client, cmdType, err)
	}
}

func (h *Hub) sendError(client *Client, command string, err error) {
	if client == nil {
		return
	}
	client.trySend(encode(OutboundMessage{Type: MsgError, Command: command, Error: err.Error()}))
}

// --- 公共方法 ---

// QueueMessage 将消息放入 Hub 的处理队列 (非阻塞)。
// 返回 true 如果消息成功入队，false 如果队列已满。
func (h *Hub) QueueMessage(msg HubMessage) bool {
	select {
	case h.messageChan <- msg:
		return true
	default:
		logrus.WithFields(logrus.Fields{
			"message_type":   msg.Type,
			"meeting_id":     msg.MeetingID,
			"participant_id": msg.ParticipantID,
		}).Warn("Hub message channel full, dropping message")
		return false
	}
}

// ClientCount 返回某场会议当前连接的客户端数
func (h *Hub) ClientCount(meetingID string) int {
	h.roomsMu.RLock()
	defer h.roomsMu.RUnlock()
	if g, ok := h.rooms[meetingID]; ok {
		return len(g.clients)
	}
	return 0
}
