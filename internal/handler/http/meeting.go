package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/221fa04357-prog/connect-pro/internal/domain"
	"github.com/221fa04357-prog/connect-pro/internal/middleware"
	"github.com/221fa04357-prog/connect-pro/internal/service"
)

// MeetingHandler 封装了会议相关的 HTTP 处理逻辑
type MeetingHandler struct {
	meetingService *service.MeetingService
	authService    *service.AuthService
}

// NewMeetingHandler 创建 MeetingHandler 实例
func NewMeetingHandler(meetingService *service.MeetingService, authService *service.AuthService) *MeetingHandler {
	if meetingService == nil || authService == nil {
		panic("MeetingService and AuthService cannot be nil for MeetingHandler")
	}
	return &MeetingHandler{meetingService: meetingService, authService: authService}
}

// CreateMeetingRequest 创建会议的请求
type CreateMeetingRequest struct {
	Title           string                  `json:"title" binding:"required,max=191"`
	DurationMinutes int                     `json:"durationMinutes" binding:"min=0,max=1440"`
	Settings        *domain.MeetingSettings `json:"settings"`
	Password        string                  `json:"password" binding:"max=64"`
}

// CreateMeeting 创建会议，当前登录用户成为主持人
func (h *MeetingHandler) CreateMeeting(c *gin.Context) {
	var req CreateMeetingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logrus.WithError(err).Warn("Handler.CreateMeeting: Invalid input")
		bindError(c, err)
		return
	}

	ctx := c.Request.Context()
	host, err := h.authService.User(ctx, middleware.UserID(c))
	if err != nil {
		HandleServiceError(c, err)
		return
	}

	// 未提供设置时使用默认开关
	settings := domain.MeetingSettings{AllowParticipantsToUnmute: true}
	if req.Settings != nil {
		settings = *req.Settings
	}
	m, err := h.meetingService.Create(ctx, *host, service.CreateMeetingInput{
		Title:           req.Title,
		DurationMinutes: req.DurationMinutes,
		Settings:        settings,
		Password:        req.Password,
	})
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusCreated, m)
}

// GetMeeting 查询会议
func (h *MeetingHandler) GetMeeting(c *gin.Context) {
	view, err := h.meetingService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, view)
}

// JoinMeetingRequest 加入会议的请求
type JoinMeetingRequest struct {
	Name     string `json:"name" binding:"required,max=191"`
	Password string `json:"password"`
}

// JoinMeeting 加入会议。登录用户以用户 ID 入会，访客获得新的参会者 ID。
func (h *MeetingHandler) JoinMeeting(c *gin.Context) {
	var req JoinMeetingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	result, err := h.meetingService.Join(c.Request.Context(), c.Param("id"), service.JoinMeetingInput{
		Name:     req.Name,
		UserID:   middleware.UserID(c),
		Password: req.Password,
	})
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, result)
}

// LeaveMeetingRequest 离开会议的请求
type LeaveMeetingRequest struct {
	ParticipantID string `json:"participantId" binding:"required"`
}

// LeaveMeeting 离开会议。登录用户只能让自己离开。
func (h *MeetingHandler) LeaveMeeting(c *gin.Context) {
	var req LeaveMeetingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	if userID := middleware.UserID(c); userID != "" && userID != req.ParticipantID {
		HandleServiceError(c, service.ErrForbidden)
		return
	}

	if err := h.meetingService.Leave(c.Request.Context(), c.Param("id"), req.ParticipantID); err != nil {
		HandleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Left meeting"})
}

// EndMeeting 结束会议，只有主持人可以操作
func (h *MeetingHandler) EndMeeting(c *gin.Context) {
	m, err := h.meetingService.End(c.Request.Context(), c.Param("id"), middleware.UserID(c))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, m)
}
