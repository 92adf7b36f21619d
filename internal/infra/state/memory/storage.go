// Package memory 提供单进程使用的 DeviceStorage 实现。
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/221fa04357-prog/connect-pro/internal/repository"
)

type entry struct {
	value     []byte
	expiresAt time.Time // 零值表示不过期
}

// DeviceStorage 是 repository.DeviceStorage 的内存实现，过期的 key 在读取时惰性删除。
type DeviceStorage struct {
	mu    sync.RWMutex
	items map[string]entry
	now   func() time.Time
}

// compile-time check
var _ repository.DeviceStorage = (*DeviceStorage)(nil)

// NewDeviceStorage 创建空的内存存储。
func NewDeviceStorage() *DeviceStorage {
	return &DeviceStorage{
		items: make(map[string]entry),
		now:   time.Now,
	}
}

func itemKey(deviceID, key string) string {
	return deviceID + "|" + key
}

// Get 读取 key 的值。
func (s *DeviceStorage) Get(_ context.Context, deviceID, key string) ([]byte, error) {
	k := itemKey(deviceID, key)
	s.mu.RLock()
	e, ok := s.items[k]
	s.mu.RUnlock()
	if !ok {
		return nil, repository.ErrKeyNotFound
	}
	if !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt) {
		s.mu.Lock()
		delete(s.items, k)
		s.mu.Unlock()
		return nil, repository.ErrKeyNotFound
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

// Set 写入 key 的值。
func (s *DeviceStorage) Set(_ context.Context, deviceID, key string, value []byte, ttl time.Duration) error {
	e := entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.mu.Lock()
	s.items[itemKey(deviceID, key)] = e
	s.mu.Unlock()
	return nil
}

// Delete 删除 key。
func (s *DeviceStorage) Delete(_ context.Context, deviceID, key string) error {
	s.mu.Lock()
	delete(s.items, itemKey(deviceID, key))
	s.mu.Unlock()
	return nil
}
