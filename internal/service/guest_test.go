package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/221fa04357-prog/connect-pro/internal/infra/state/memory"
	"github.com/221fa04357-prog/connect-pro/internal/service"
)

// testClock 是可以手动拨动的时钟
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestGuestService_Lifecycle(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	guests := service.NewGuestService(memory.NewDeviceStorage(), time.Minute, clock.Now)

	status, err := guests.Status(ctx, testDevice)
	require.NoError(t, err)
	assert.False(t, status.Active, "没有会话时不应处于访客状态")
	assert.Nil(t, status.ExpiresAt)

	status, err = guests.Start(ctx, testDevice)
	require.NoError(t, err)
	assert.True(t, status.Active)
	assert.Equal(t, 60, status.RemainingSeconds)

	clock.Advance(20 * time.Second)
	status, err = guests.Status(ctx, testDevice)
	require.NoError(t, err)
	assert.Equal(t, 40, status.RemainingSeconds)

	active, err := guests.Check(ctx, "device-2")
	require.NoError(t, err)
	assert.False(t, active, "会话按设备隔离")

	clock.Advance(40 * time.Second)
	active, err = guests.Check(ctx, testDevice)
	require.NoError(t, err)
	assert.False(t, active, "到达过期时间后会话失效")

	status, err = guests.Status(ctx, testDevice)
	require.NoError(t, err)
	assert.Nil(t, status.ExpiresAt, "过期的会话应被清除")
}

func TestGuestService_End(t *testing.T) {
	ctx := context.Background()
	guests := service.NewGuestService(memory.NewDeviceStorage(), 0, nil)

	_, err := guests.Start(ctx, testDevice)
	require.NoError(t, err)
	require.NoError(t, guests.End(ctx, testDevice))
	require.NoError(t, guests.End(ctx, testDevice), "重复结束不应报错")

	active, err := guests.Check(ctx, testDevice)
	require.NoError(t, err)
	assert.False(t, active)
}

func TestGuestService_RequiresDevice(t *testing.T) {
	guests := service.NewGuestService(memory.NewDeviceStorage(), 0, nil)
	_, err := guests.Start(context.Background(), "")
	assert.ErrorIs(t, err, service.ErrInvalidInput)
}

func TestGuestService_WatchFiresOnExpiry(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	clock := newTestClock()
	guests := service.NewGuestService(memory.NewDeviceStorage(), time.Minute, clock.Now)
	_, err := guests.Start(ctx, testDevice)
	require.NoError(t, err)

	expired := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- guests.Watch(ctx, testDevice, 5*time.Millisecond, func() { close(expired) })
	}()

	clock.Advance(time.Minute)
	select {
	case <-expired:
	case <-time.After(2 * time.Second):
		t.Fatal("会话过期后应调用 onExpire")
	}
	assert.NoError(t, <-done)
}
