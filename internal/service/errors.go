package service

import (
	"errors"

	"github.com/221fa04357-prog/connect-pro/internal/repository"
)

var (
	ErrUserNotFound           = errors.New("user not found")
	ErrAuthenticationFailed   = errors.New("authentication failed")
	ErrRegistrationFailed     = errors.New("registration failed: email already exists")
	ErrInternalServer         = errors.New("internal server error")
	ErrInvalidInput           = errors.New("invalid input")
	ErrMeetingNotFound        = errors.New("meeting not found")
	ErrMeetingEnded           = errors.New("meeting has ended")
	ErrInvalidMeetingPassword = errors.New("invalid meeting password")
	ErrForbidden              = errors.New("operation not permitted for this participant")
	ErrNotInMeeting           = errors.New("participant is not in the meeting")
	ErrInvalidCommand         = errors.New("invalid command")
	ErrNotLoggedIn            = errors.New("no user is logged in on this device")
	ErrGuestSessionExpired    = errors.New("guest session expired")
)

// mapRepoError 将仓库层的错误映射到服务层定义的错误。
// notFound 是记录不存在时应返回的业务错误。
func mapRepoError(err, notFound error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, repository.ErrNotFound) && notFound != nil {
		return notFound
	}
	// 默认返回内部服务器错误
	return ErrInternalServer
}
