package websocket

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/221fa04357-prog/connect-pro/internal/hub"
	"github.com/221fa04357-prog/connect-pro/internal/middleware"
)

// defaultGuestWatchInterval 访客连接检查会话过期的间隔
const defaultGuestWatchInterval = 5 * time.Second

// GuestWatcher 监视设备上的访客会话，过期时回调 onExpire
type GuestWatcher interface {
	Watch(ctx context.Context, deviceID string, interval time.Duration, onExpire func()) error
}

// WebSocketHandler 负责处理 WebSocket 升级请求和客户端注册
type WebSocketHandler struct {
	upgrader      websocket.Upgrader
	hub           *hub.Hub
	guests        GuestWatcher
	watchInterval time.Duration
}

// NewWebSocketHandler 创建 WebSocketHandler 实例。
// allowedOrigin 为空或 "*" 时接受任意来源。
func NewWebSocketHandler(h *hub.Hub, guests GuestWatcher, allowedOrigin string) *WebSocketHandler {
	if h == nil {
		panic("Hub cannot be nil for WebSocketHandler")
	}
	if guests == nil {
		panic("GuestWatcher cannot be nil for WebSocketHandler")
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowedOrigin == "" || allowedOrigin == "*" || origin == allowedOrigin
		},
	}

	return &WebSocketHandler{
		upgrader:      upgrader,
		hub:           h,
		guests:        guests,
		watchInterval: defaultGuestWatchInterval,
	}
}

// WithWatchInterval 修改访客会话的检查间隔
func (h *WebSocketHandler) WithWatchInterval(d time.Duration) *WebSocketHandler {
	if d > 0 {
		h.watchInterval = d
	}
	return h
}

// HandleConnection 处理 WebSocket 连接请求
// URL 预期格式: /ws/meeting/{id}?participant_id=...
// 是否为会议成员由 Hub 在注册时检查。
func (h *WebSocketHandler) HandleConnection(c *gin.Context) {
	meetingID := c.Param("id")
	participantID := c.Query("participant_id")
	userID := middleware.UserID(c)
	logCtx := logrus.WithFields(logrus.Fields{
		"meeting_id":     meetingID,
		"participant_id": participantID,
		"user_id":        userID,
	})

	if meetingID == "" || participantID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "meeting id and participant_id are required"})
		return
	}
	// 登录用户以自己的用户 ID 入会
	if userID != "" && userID != participantID {
		logCtx.Warn("WS Handler: participant_id does not belong to the authenticated user")
		c.JSON(http.StatusForbidden, gin.H{"error": "participant_id does not match the authenticated user"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 已经写出了 HTTP 错误响应
		logCtx.WithError(err).Error("WS Handler: Failed to upgrade connection")
		return
	}
	logCtx.Info("WS Handler: Connection upgraded to WebSocket")

	client := hub.NewClient(h.hub, conn, meetingID, participantID)
	if !h.hub.QueueMessage(hub.HubMessage{
		Type:          "register",
		MeetingID:     meetingID,
		ParticipantID: participantID,
		Client:        client,
	}) {
		logCtx.Error("WS Handler: Hub message channel full, failed to register client")
		client.CloseConn()
		return
	}
	client.Run()

	if middleware.IsGuest(c) {
		h.watchGuest(client, middleware.DeviceIDFrom(c), logCtx)
	}
}

// watchGuest 在访客会话过期时把连接移出会议
func (h *WebSocketHandler) watchGuest(client *hub.Client, deviceID string, logCtx *logrus.Entry) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-client.Done():
		case <-ctx.Done():
		}
		cancel()
	}()
	go func() {
		defer cancel()
		err := h.guests.Watch(ctx, deviceID, h.watchInterval, func() {
			logCtx.Info("WS Handler: Guest session expired, disconnecting")
			h.hub.Evict(client, hub.ReasonGuestExpired)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			logCtx.WithError(err).Warn("WS Handler: Guest session watch stopped")
		}
	}()
}
