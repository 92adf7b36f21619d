package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/221fa04357-prog/connect-pro/internal/service"
	"github.com/221fa04357-prog/connect-pro/internal/store"
)

// HandleServiceError 把 service/store 层的错误映射为 HTTP 响应
func HandleServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrAuthenticationFailed):
		ErrorResponse(c, http.StatusUnauthorized, err.Error())
	case errors.Is(err, service.ErrRegistrationFailed):
		ErrorResponse(c, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, service.ErrInvalidCommand),
		errors.Is(err, store.ErrInvalidDuration),
		errors.Is(err, store.ErrInvalidViewMode),
		errors.Is(err, store.ErrInvalidPlan),
		errors.Is(err, store.ErrInvalidMessage):
		ErrorResponse(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrMeetingNotFound),
		errors.Is(err, service.ErrUserNotFound),
		errors.Is(err, service.ErrNotInMeeting),
		errors.Is(err, store.ErrParticipantNotFound):
		ErrorResponse(c, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrMeetingEnded):
		ErrorResponse(c, http.StatusGone, err.Error())
	case errors.Is(err, service.ErrForbidden),
		errors.Is(err, service.ErrInvalidMeetingPassword),
		errors.Is(err, service.ErrNotLoggedIn),
		errors.Is(err, service.ErrGuestSessionExpired):
		ErrorResponse(c, http.StatusForbidden, err.Error())
	case errors.Is(err, store.ErrHostRemoval),
		errors.Is(err, store.ErrHostRoleChange):
		ErrorResponse(c, http.StatusConflict, err.Error())
	default:
		logrus.WithError(err).WithField("path", c.FullPath()).Error("Unhandled internal server error")
		ErrorResponse(c, http.StatusInternalServerError, "An unexpected error occurred")
	}
}
