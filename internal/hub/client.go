package hub

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Client 代表一个连接到 Hub 的 WebSocket 客户端，对应会议中的一名参会者。
type Client struct {
	hub           *Hub            // 指向其所属的 Hub
	conn          *websocket.Conn // WebSocket 连接
	meetingID     string          // 客户端所在的会议 ID
	participantID string          // 客户端对应的参会者 ID
	send          chan []byte     // 用于向此客户端发送消息的缓冲通道
	sendMu        sync.Mutex      // 保护 send 的关闭，关闭后不再写入
	sendClosed    bool
	done          chan struct{}   // ReadPump 退出时关闭
	commands      chan HubMessage // 待执行的命令，由单个 worker 按顺序消费
	workerOnce    sync.Once
	log           *logrus.Entry
}

// NewClient 创建一个新的 Client 实例
func NewClient(hub *Hub, conn *websocket.Conn, meetingID, participantID string) *Client {
	return &Client{
		hub:           hub,
		conn:          conn,
		meetingID:     meetingID,
		participantID: participantID,
		send:          make(chan []byte, 256),
		done:          make(chan struct{}),
		commands:      make(chan HubMessage, 64),
		log:           logrus.WithFields(logrus.Fields{"meeting_id": meetingID, "participant_id": participantID}),
	}
}

// Run 启动客户端的读写 goroutine
func (c *Client) Run() {
	go c.WritePump()
	go c.ReadPump()
}

// ReadPump 将消息从 WebSocket 连接泵送到 Hub 的 messageChan。
// 它在自己的 goroutine 中运行。
func (c *Client) ReadPump() {
	defer func() {
		close(c.done)
		// 请求 Hub 注销此客户端
		select {
		case c.hub.messageChan <- HubMessage{Type: "unregister", Client: c}:
		case <-time.After(1 * time.Second):
			c.log.Warn("Timeout sending unregister message to Hub channel")
		}
		c.conn.Close()
		c.log.Info("readPump exited, unregistered client")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait)) // 收到 Pong 后重置读取超时
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.WithError(err).Warn("WebSocket read error (unexpected close)")
			} else {
				c.log.Debug("WebSocket connection closed normally or read error")
			}
			break
		}
		if messageType != websocket.TextMessage {
			c.log.Debugf("Received non-text message type: %d", messageType)
			continue
		}

		// 非阻塞发送到 Hub，如果 Hub 处理不过来则丢弃
		cmdMsg := HubMessage{
			Type:          "command",
			MeetingID:     c.meetingID,
			ParticipantID: c.participantID,
			Client:        c,
			RawData:       message,
		}
		select {
		case c.hub.messageChan <- cmdMsg:
		default:
			c.log.Warn("Hub message channel full, dropping client message")
			c.trySend(encode(OutboundMessage{Type: MsgError, Error: "server busy, command dropped"}))
		}
	}
}

// WritePump 将消息从 Client 的 send 通道泵送到 WebSocket 连接。
// 它在自己的 goroutine 中运行。
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Debug("writePump exited")
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// send 通道被 Hub 关闭了（注销或被移出会议）
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.WithError(err).Warn("Failed to write message to websocket")
				return
			}
			_ = c.conn.SetWriteDeadline(time.Time{})

		case <-ticker.C:
			// 定期发送 Ping 以保持连接活跃并检测断开
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.log.WithError(err).Warn("Failed to send ping message")
				return
			}
			_ = c.conn.SetWriteDeadline(time.Time{})
		}
	}
}

// trySend 非阻塞地把消息放入发送队列，队列已满或已关闭时返回 false。
func (c *Client) trySend(message []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.sendClosed {
		return false
	}
	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

// closeSend 关闭发送通道，可以重复调用
func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.sendClosed {
		c.sendClosed = true
		close(c.send)
	}
}

func (c *Client) MeetingID() string     { return c.meetingID }
func (c *Client) ParticipantID() string { return c.participantID }
func (c *Client) Done() <-chan struct{} { return c.done }
func (c *Client) CloseConn()            { c.conn.Close() }
