package service

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/221fa04357-prog/connect-pro/internal/domain"
	"github.com/221fa04357-prog/connect-pro/internal/repository"
	"github.com/221fa04357-prog/connect-pro/internal/store"
)

// GuestStatus 是访客会话对外的状态
type GuestStatus struct {
	Active           bool   `json:"active"`
	ExpiresAt        *int64 `json:"expiresAt"`
	RemainingSeconds int    `json:"remainingSeconds"`
}

// GuestService 管理按设备隔离的访客试用会话
type GuestService struct {
	devices repository.DeviceStorage
	opts    []store.GuestOption
	now     store.Clock
}

// NewGuestService 创建 GuestService。duration <= 0 时使用默认时长。
func NewGuestService(devices repository.DeviceStorage, duration time.Duration, clock store.Clock) *GuestService {
	if devices == nil {
		panic("DeviceStorage cannot be nil for GuestService")
	}
	if clock == nil {
		clock = time.Now
	}
	return &GuestService{
		devices: devices,
		opts:    []store.GuestOption{store.WithGuestDuration(duration), store.WithGuestClock(clock)},
		now:     clock,
	}
}

func (s *GuestService) load(ctx context.Context, deviceID string) (*store.GuestSessionStore, error) {
	if deviceID == "" {
		return nil, ErrInvalidInput
	}
	g, err := store.LoadGuestSessionStore(ctx, s.devices, deviceID, s.opts...)
	if err != nil {
		logrus.WithField("device_id", deviceID).WithError(err).Error("Failed to load guest session")
		return nil, ErrInternalServer
	}
	return g, nil
}

// Start 为设备开始一个新的访客会话，已有会话会被重置。
func (s *GuestService) Start(ctx context.Context, deviceID string) (GuestStatus, error) {
	g, err := s.load(ctx, deviceID)
	if err != nil {
		return GuestStatus{}, err
	}
	session, err := g.Start(ctx)
	if err != nil {
		logrus.WithField("device_id", deviceID).WithError(err).Error("Failed to start guest session")
		return GuestStatus{}, ErrInternalServer
	}
	return s.status(session), nil
}

// End 结束设备上的访客会话
func (s *GuestService) End(ctx context.Context, deviceID string) error {
	g, err := s.load(ctx, deviceID)
	if err != nil {
		return err
	}
	if err := g.End(ctx); err != nil {
		logrus.WithField("device_id", deviceID).WithError(err).Error("Failed to end guest session")
		return ErrInternalServer
	}
	return nil
}

// Status 检查过期后返回设备的访客会话状态
func (s *GuestService) Status(ctx context.Context, deviceID string) (GuestStatus, error) {
	g, err := s.load(ctx, deviceID)
	if err != nil {
		return GuestStatus{}, err
	}
	if _, err := g.Check(ctx); err != nil {
		logrus.WithField("device_id", deviceID).WithError(err).Warn("Guest session check failed")
		return GuestStatus{}, ErrInternalServer
	}
	return s.status(g.Session()), nil
}

// Check 报告设备的访客会话是否有效，过期的会话会被清除。
func (s *GuestService) Check(ctx context.Context, deviceID string) (bool, error) {
	g, err := s.load(ctx, deviceID)
	if err != nil {
		return false, err
	}
	active, err := g.Check(ctx)
	if err != nil {
		return false, ErrInternalServer
	}
	return active, nil
}

// Watch 轮询设备的访客会话，过期或被结束时调用 onExpire。ctx 取消时返回。
// 每次检查都重新从设备存储读取，其他请求结束会话也能被发现。
func (s *GuestService) Watch(ctx context.Context, deviceID string, interval time.Duration, onExpire func()) error {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			active, err := s.Check(ctx, deviceID)
			if err != nil {
				if errors.Is(err, ErrInvalidInput) {
					return err
				}
				logrus.WithField("device_id", deviceID).WithError(err).Warn("Guest session check failed")
				continue
			}
			if !active {
				if onExpire != nil {
					onExpire()
				}
				return nil
			}
		}
	}
}

func (s *GuestService) status(session domain.GuestSession) GuestStatus {
	now := s.now()
	return GuestStatus{
		Active:           session.Active(now),
		ExpiresAt:        session.ExpiresAt,
		RemainingSeconds: int(session.Remaining(now) / time.Second),
	}
}
