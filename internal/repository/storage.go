package repository

import (
	"context"
	"time"
)

// DeviceStorage 是浏览器 local storage 的服务端替代：按设备 ID 隔离的键值存储。
// 值是 JSON 原文，由调用方负责编解码。
type DeviceStorage interface {
	// Get 读取 key 的值，不存在时返回 ErrKeyNotFound。
	Get(ctx context.Context, deviceID, key string) ([]byte, error)

	// Set 写入 key 的值，ttl <= 0 表示不过期。
	Set(ctx context.Context, deviceID, key string, value []byte, ttl time.Duration) error

	// Delete 删除 key，key 不存在时不报错。
	Delete(ctx context.Context, deviceID, key string) error
}
