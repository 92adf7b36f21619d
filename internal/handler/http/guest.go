package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/221fa04357-prog/connect-pro/internal/middleware"
	"github.com/221fa04357-prog/connect-pro/internal/service"
)

// GuestHandler 处理访客会话的开始、查询和结束
type GuestHandler struct {
	guestService *service.GuestService
}

// NewGuestHandler 创建 GuestHandler 实例
func NewGuestHandler(guestService *service.GuestService) *GuestHandler {
	if guestService == nil {
		panic("GuestService cannot be nil for GuestHandler")
	}
	return &GuestHandler{guestService: guestService}
}

// Start 为设备开始一个新的访客会话
func (h *GuestHandler) Start(c *gin.Context) {
	deviceID := middleware.DeviceIDFrom(c)
	status, err := h.guestService.Start(c.Request.Context(), deviceID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	logrus.WithField("device_id", deviceID).Info("Handler.Guest: Guest session started")
	SuccessResponse(c, http.StatusCreated, status)
}

// Status 返回设备的访客会话状态
func (h *GuestHandler) Status(c *gin.Context) {
	status, err := h.guestService.Status(c.Request.Context(), middleware.DeviceIDFrom(c))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, status)
}

// End 结束设备的访客会话
func (h *GuestHandler) End(c *gin.Context) {
	if err := h.guestService.End(c.Request.Context(), middleware.DeviceIDFrom(c)); err != nil {
		HandleServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
