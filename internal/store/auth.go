package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/221fa04357-prog/connect-pro/internal/domain"
	"github.com/221fa04357-prog/connect-pro/internal/repository"
)

// authRecord 是 connectpro_auth 在本地存储中的格式
type authRecord struct {
	User            *domain.User `json:"user"`
	IsAuthenticated bool         `json:"isAuthenticated"`
}

// AuthState 是 AuthStore 对外暴露的只读快照
type AuthState struct {
	User             *domain.User            `json:"user"`
	IsAuthenticated  bool                    `json:"isAuthenticated"`
	SubscriptionPlan domain.SubscriptionPlan `json:"subscriptionPlan,omitempty"`
}

// AuthStore 保存某个设备上的当前登录用户，本地存储是唯一的数据来源。
type AuthStore struct {
	mu       sync.RWMutex
	storage  repository.DeviceStorage
	deviceID string
	user     *domain.User
	authed   bool
	log      *logrus.Entry
}

// LoadAuthStore 从设备存储恢复登录状态。
// 记录不存在或格式损坏时视为未登录，只有存储本身出错才返回错误。
func LoadAuthStore(ctx context.Context, storage repository.DeviceStorage, deviceID string) (*AuthStore, error) {
	if storage == nil {
		panic("DeviceStorage cannot be nil for AuthStore")
	}
	s := &AuthStore{
		storage:  storage,
		deviceID: deviceID,
		log:      logrus.WithFields(logrus.Fields{"component": "auth_store", "device_id": deviceID}),
	}

	raw, err := storage.Get(ctx, deviceID, AuthStorageKey)
	if err != nil {
		if errors.Is(err, repository.ErrKeyNotFound) {
			return s, nil
		}
		return nil, fmt.Errorf("load auth record: %w", err)
	}
	var rec authRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		s.log.WithError(err).Warn("Malformed auth record, treating as logged out")
		return s, nil
	}
	if rec.User != nil && rec.IsAuthenticated {
		s.user = rec.User
		s.authed = true
	}
	return s, nil
}

// State 返回当前登录状态的副本
func (s *AuthStore) State() AuthState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := AuthState{IsAuthenticated: s.authed}
	if s.user != nil {
		u := *s.user
		st.User = &u
		st.SubscriptionPlan = u.SubscriptionPlan
	}
	return st
}

// Login 设置当前用户并持久化。订阅等级总是被重置为 free。
func (s *AuthStore) Login(ctx context.Context, user domain.User) error {
	user.SubscriptionPlan = domain.PlanFree
	user.PasswordHash = ""

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.save(ctx, &user); err != nil {
		return err
	}
	s.user = &user
	s.authed = true
	s.log.WithField("user_id", user.ID).Info("User logged in on device")
	return nil
}

// Logout 清空用户、登录标记和订阅信息，并删除持久化记录。
func (s *AuthStore) Logout(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.storage.Delete(ctx, s.deviceID, AuthStorageKey); err != nil {
		return fmt.Errorf("delete auth record: %w", err)
	}
	s.user = nil
	s.authed = false
	s.log.Info("User logged out on device")
	return nil
}

// SetSubscription 更新已登录用户的订阅等级，未登录时什么也不做。
func (s *AuthStore) SetSubscription(ctx context.Context, plan domain.SubscriptionPlan) error {
	if !plan.Valid() {
		return ErrInvalidPlan
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil || !s.authed {
		return nil
	}
	updated := *s.user
	updated.SubscriptionPlan = plan
	if err := s.save(ctx, &updated); err != nil {
		return err
	}
	s.user = &updated
	return nil
}

// save 调用方需持有写锁
func (s *AuthStore) save(ctx context.Context, user *domain.User) error {
	raw, err := json.Marshal(authRecord{User: user, IsAuthenticated: true})
	if err != nil {
		return fmt.Errorf("marshal auth record: %w", err)
	}
	if err := s.storage.Set(ctx, s.deviceID, AuthStorageKey, raw, 0); err != nil {
		s.log.WithError(err).Error("Failed to persist auth record")
		return fmt.Errorf("persist auth record: %w", err)
	}
	return nil
}
