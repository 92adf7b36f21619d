package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/221fa04357-prog/connect-pro/internal/domain"
	"github.com/221fa04357-prog/connect-pro/internal/repository"
)

// GuestSessionDuration 访客试用时长 (2 分 50 秒)
const GuestSessionDuration = 2*time.Minute + 50*time.Second

// GuestSessionStore 跟踪某个设备上的限时访客会话。
// 过期只靠轮询 Check 发现，存储本身不会主动通知。
type GuestSessionStore struct {
	mu        sync.RWMutex
	storage   repository.DeviceStorage
	deviceID  string
	expiresAt *int64
	duration  time.Duration
	now       Clock
	log       *logrus.Entry
}

// GuestOption 定制 GuestSessionStore
type GuestOption func(*GuestSessionStore)

// WithGuestClock 替换时钟
func WithGuestClock(c Clock) GuestOption {
	return func(s *GuestSessionStore) { s.now = c }
}

// WithGuestDuration 替换会话时长
func WithGuestDuration(d time.Duration) GuestOption {
	return func(s *GuestSessionStore) {
		if d > 0 {
			s.duration = d
		}
	}
}

// LoadGuestSessionStore 从设备存储恢复访客会话，记录损坏时视为没有会话。
func LoadGuestSessionStore(ctx context.Context, storage repository.DeviceStorage, deviceID string, opts ...GuestOption) (*GuestSessionStore, error) {
	if storage == nil {
		panic("DeviceStorage cannot be nil for GuestSessionStore")
	}
	s := &GuestSessionStore{
		storage:  storage,
		deviceID: deviceID,
		duration: GuestSessionDuration,
		now:      time.Now,
		log:      logrus.WithFields(logrus.Fields{"component": "guest_session_store", "device_id": deviceID}),
	}
	for _, opt := range opts {
		opt(s)
	}

	raw, err := storage.Get(ctx, deviceID, GuestSessionStorageKey)
	if err != nil {
		if errors.Is(err, repository.ErrKeyNotFound) {
			return s, nil
		}
		return nil, fmt.Errorf("load guest session: %w", err)
	}
	var rec domain.GuestSession
	if err := json.Unmarshal(raw, &rec); err != nil {
		s.log.WithError(err).Warn("Malformed guest session record, ignoring")
		return s, nil
	}
	if rec.ExpiresAt != nil && *rec.ExpiresAt > 0 {
		s.expiresAt = rec.ExpiresAt
	}
	return s, nil
}

// Session 返回当前会话的副本
func (s *GuestSessionStore) Session() domain.GuestSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.expiresAt == nil {
		return domain.GuestSession{}
	}
	v := *s.expiresAt
	return domain.GuestSession{ExpiresAt: &v}
}

// Active 等价于 expiresAt != nil && now < expiresAt
func (s *GuestSessionStore) Active() bool {
	return s.Session().Active(s.now())
}

// Start 开始一个新的访客会话，过期时间为 now + duration。
func (s *GuestSessionStore) Start(ctx context.Context) (domain.GuestSession, error) {
	expiresAt := s.now().Add(s.duration).UnixMilli()
	raw, err := json.Marshal(domain.GuestSession{ExpiresAt: &expiresAt})
	if err != nil {
		return domain.GuestSession{}, fmt.Errorf("marshal guest session: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// 存储侧的 TTL 与会话剩余时长一致，过期的 key 不会堆积
	if err := s.storage.Set(ctx, s.deviceID, GuestSessionStorageKey, raw, s.duration); err != nil {
		return domain.GuestSession{}, fmt.Errorf("persist guest session: %w", err)
	}
	s.expiresAt = &expiresAt
	s.log.WithField("expires_at", expiresAt).Info("Guest session started")
	v := expiresAt
	return domain.GuestSession{ExpiresAt: &v}, nil
}

// End 清除访客会话
func (s *GuestSessionStore) End(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endLocked(ctx)
}

func (s *GuestSessionStore) endLocked(ctx context.Context) error {
	if err := s.storage.Delete(ctx, s.deviceID, GuestSessionStorageKey); err != nil {
		return fmt.Errorf("delete guest session: %w", err)
	}
	if s.expiresAt != nil {
		s.log.Info("Guest session ended")
	}
	s.expiresAt = nil
	return nil
}

// Check 比较当前时间和过期时间，已过期则结束会话。
// 返回检查后的 Active 状态。
func (s *GuestSessionStore) Check(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expiresAt == nil {
		return false, nil
	}
	if s.now().UnixMilli() >= *s.expiresAt {
		if err := s.endLocked(ctx); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// Watch 每隔 interval 调用一次 Check，会话从有效变为失效时调用 onExpire 一次后返回。
// ctx 取消时返回 ctx.Err()。
func (s *GuestSessionStore) Watch(ctx context.Context, interval time.Duration, onExpire func()) error {
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
			active, err := s.Check(ctx)
			if err != nil {
				s.log.WithError(err).Warn("Guest session check failed")
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
