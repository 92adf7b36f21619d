package redisstate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/221fa04357-prog/connect-pro/internal/repository"
)

// DeviceStorage 是 repository.DeviceStorage 的 Redis 实现
type DeviceStorage struct {
	client    *redis.Client
	keyPrefix string // Redis key 前缀，方便管理
}

var _ repository.DeviceStorage = (*DeviceStorage)(nil)

// NewDeviceStorage 创建 DeviceStorage 实例
func NewDeviceStorage(client *redis.Client, keyPrefix string) *DeviceStorage {
	if client == nil {
		panic("redis client cannot be nil for DeviceStorage")
	}
	if keyPrefix == "" {
		keyPrefix = "cp:" // 默认前缀 "cp:" (connect-pro)
	}
	return &DeviceStorage{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// --- Key Generation Helpers ---
func (s *DeviceStorage) deviceKey(deviceID, key string) string {
	return fmt.Sprintf("%sdevice:%s:%s", s.keyPrefix, deviceID, key)
}

// Get 读取设备上的一个 key
func (s *DeviceStorage) Get(ctx context.Context, deviceID, key string) ([]byte, error) {
	k := s.deviceKey(deviceID, key)
	value, err := s.client.Get(ctx, k).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, repository.ErrKeyNotFound
		}
		return nil, fmt.Errorf("redis: failed to get %s: %w", k, err)
	}
	return value, nil
}

// Set 写入设备上的一个 key，ttl 为 0 表示不过期
func (s *DeviceStorage) Set(ctx context.Context, deviceID, key string, value []byte, ttl time.Duration) error {
	k := s.deviceKey(deviceID, key)
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, k, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis: failed to set %s: %w", k, err)
	}
	return nil
}

// Delete 删除设备上的一个 key
func (s *DeviceStorage) Delete(ctx context.Context, deviceID, key string) error {
	k := s.deviceKey(deviceID, key)
	if err := s.client.Del(ctx, k).Err(); err != nil {
		return fmt.Errorf("redis: failed to delete %s: %w", k, err)
	}
	return nil
}
