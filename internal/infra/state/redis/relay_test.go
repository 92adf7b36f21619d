package redisstate

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/221fa04357-prog/connect-pro/internal/eventbus"
	"github.com/221fa04357-prog/connect-pro/internal/repository"
)

func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestDeviceStorage_RoundTrip(t *testing.T) {
	client := newTestClient(t)
	s := NewDeviceStorage(client, "test:")
	ctx := context.Background()

	_, err := s.Get(ctx, "dev", "connectpro_auth")
	assert.ErrorIs(t, err, repository.ErrKeyNotFound)

	require.NoError(t, s.Set(ctx, "dev", "connectpro_auth", []byte(`{"isAuthenticated":true}`), time.Minute))
	v, err := s.Get(ctx, "dev", "connectpro_auth")
	require.NoError(t, err)
	assert.JSONEq(t, `{"isAuthenticated":true}`, string(v))

	ttl, err := client.TTL(ctx, "test:device:dev:connectpro_auth").Result()
	require.NoError(t, err)
	assert.True(t, ttl > 0)

	require.NoError(t, s.Delete(ctx, "dev", "connectpro_auth"))
	_, err = s.Get(ctx, "dev", "connectpro_auth")
	assert.ErrorIs(t, err, repository.ErrKeyNotFound)
}

type roster struct {
	Names []string `json:"names"`
}

func TestRelay_ForwardsBetweenBuses(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	channel := MeetingChannel("test:", "m-1")

	busA, busB := eventbus.New(), eventbus.New()
	relayA := NewRelay(client, busA, channel, "aaaa", eventbus.EventParticipantsSync)
	relayB := NewRelay(client, busB, channel, "bbbb", eventbus.EventParticipantsSync)
	require.NoError(t, relayA.Start(ctx))
	require.NoError(t, relayB.Start(ctx))
	defer relayA.Close()
	defer relayB.Close()

	var mu sync.Mutex
	var gotB []eventbus.Meta
	var payloadB roster
	busB.Subscribe(eventbus.EventParticipantsSync, func(payload any, meta eventbus.Meta) {
		r, err := eventbus.Decode[roster](payload)
		mu.Lock()
		defer mu.Unlock()
		if err == nil {
			payloadB = r
		}
		gotB = append(gotB, meta)
	})
	echoA := 0
	busA.Subscribe(eventbus.EventParticipantsSync, func(any, eventbus.Meta) {
		mu.Lock()
		echoA++
		mu.Unlock()
	})

	busA.Publish(eventbus.EventParticipantsSync, roster{Names: []string{"alice"}}, eventbus.Meta{Source: "aaaa", Seq: 3})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(gotB) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, eventbus.Meta{Source: "aaaa", Seq: 3}, gotB[0])
	assert.Equal(t, []string{"alice"}, payloadB.Names)
	mu.Unlock()

	// A 只应收到自己的本地发布一次，Redis 回声会被丢弃
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, 1, echoA)
	mu.Unlock()
}

func TestRelay_DoesNotForwardRemoteEvents(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	channel := MeetingChannel("test:", "m-2")
	bus := eventbus.New()
	relay := NewRelay(client, bus, channel, "self", eventbus.EventMeetingSync)
	require.NoError(t, relay.Start(ctx))
	defer relay.Close()

	sub := client.Subscribe(ctx, channel)
	_, err := sub.Receive(ctx)
	require.NoError(t, err)
	defer sub.Close()

	// 来源不是本实例，不应转发
	bus.Publish(eventbus.EventMeetingSync, roster{}, eventbus.Meta{Source: "other", Seq: 1})
	bus.Publish(eventbus.EventMeetingSync, roster{Names: []string{"x"}}, eventbus.Meta{Source: "self", Seq: 2})

	select {
	case msg := <-sub.Channel():
		var env envelope
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &env))
		assert.Equal(t, "self", env.Source)
		assert.Equal(t, uint64(2), env.Seq)
	case <-time.After(2 * time.Second):
		t.Fatal("expected relayed message")
	}
}

func TestRelay_CloseUnsubscribes(t *testing.T) {
	client := newTestClient(t)
	bus := eventbus.New()
	relay := NewRelay(client, bus, MeetingChannel("test:", "m-3"), "self", eventbus.EventMeetingSync)
	require.NoError(t, relay.Start(context.Background()))
	assert.Equal(t, 1, bus.ListenerCount(eventbus.EventMeetingSync))

	require.NoError(t, relay.Close())
	assert.Equal(t, 0, bus.ListenerCount(eventbus.EventMeetingSync))
	assert.NoError(t, relay.Close())
}

func TestRelay_PeersCountsOtherSubscribers(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	channel := MeetingChannel("test:", "m-4")
	relayA := NewRelay(client, eventbus.New(), channel, "aaaa")
	require.NoError(t, relayA.Start(ctx))
	defer relayA.Close()

	n, err := relayA.Peers(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "只有自己订阅时没有其他实例")

	relayB := NewRelay(client, eventbus.New(), channel, "bbbb")
	require.NoError(t, relayB.Start(ctx))
	defer relayB.Close()

	n, err = relayA.Peers(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
