package redisstate

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/221fa04357-prog/connect-pro/internal/eventbus"
)

// publishTimeout 单次 Publish 的超时时间
const publishTimeout = 2 * time.Second

// envelope 是 relay 在 Redis 频道上传输的消息格式
type envelope struct {
	Event   string          `json:"event"`
	Source  string          `json:"source"`
	Seq     uint64          `json:"seq"`
	Payload json.RawMessage `json:"payload"`
}

// Relay 把本地 Bus 上由本实例发布的事件转发到 Redis 频道，
// 并把其他进程发布的事件注入本地 Bus。
type Relay struct {
	client     *redis.Client
	bus        *eventbus.Bus
	channel    string
	instanceID string
	events     []string

	mu      sync.Mutex
	pubsub  *redis.PubSub
	unsubs  []func()
	done    chan struct{}
	started bool
	log     *logrus.Entry
}

// NewRelay 创建 Relay，channel 通常是 "<prefix>meeting:<id>:bus"
func NewRelay(client *redis.Client, bus *eventbus.Bus, channel, instanceID string, events ...string) *Relay {
	if client == nil {
		panic("redis client cannot be nil for Relay")
	}
	if bus == nil {
		panic("event bus cannot be nil for Relay")
	}
	return &Relay{
		client:     client,
		bus:        bus,
		channel:    channel,
		instanceID: instanceID,
		events:     events,
		log: logrus.WithFields(logrus.Fields{
			"component": "relay",
			"channel":   channel,
			"instance":  instanceID,
		}),
	}
}

// MeetingChannel 返回会议在 Redis 上的总线频道名
func MeetingChannel(keyPrefix, meetingID string) string {
	return fmt.Sprintf("%smeeting:%s:bus", keyPrefix, meetingID)
}

// Start 订阅 Redis 频道并开始双向转发。订阅确认后才返回。
func (r *Relay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}

	pubsub := r.client.Subscribe(ctx, r.channel)
	// 等待订阅确认，避免 Start 返回后立即发布的消息丢失
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("redis: failed to subscribe %s: %w", r.channel, err)
	}
	r.pubsub = pubsub
	r.done = make(chan struct{})

	for _, event := range r.events {
		event := event
		r.unsubs = append(r.unsubs, r.bus.Subscribe(event, func(payload any, meta eventbus.Meta) {
			r.forward(event, payload, meta)
		}))
	}

	go r.receive(pubsub.Channel())
	r.started = true
	r.log.Info("Relay started")
	return nil
}

// forward 只转发本实例发布的事件，远端注入的事件不会再被发回去
func (r *Relay) forward(event string, payload any, meta eventbus.Meta) {
	if meta.Source != r.instanceID {
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		r.log.WithError(err).WithField("event", event).Error("Failed to marshal event payload")
		return
	}
	msg, err := json.Marshal(envelope{Event: event, Source: meta.Source, Seq: meta.Seq, Payload: body})
	if err != nil {
		r.log.WithError(err).WithField("event", event).Error("Failed to marshal envelope")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := r.client.Publish(ctx, r.channel, msg).Err(); err != nil {
		r.log.WithError(err).WithFields(logrus.Fields{
			"event":        event,
			"payload_size": len(msg),
		}).Error("Redis Publish failed")
	}
}

func (r *Relay) receive(ch <-chan *redis.Message) {
	defer close(r.done)
	for msg := range ch {
		var env envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			r.log.WithError(err).Warn("Dropping malformed relay message")
			continue
		}
		if env.Source == r.instanceID {
			continue // 自己发布的回声
		}
		r.bus.Publish(env.Event, env.Payload, eventbus.Meta{Source: env.Source, Seq: env.Seq})
	}
}

// Peers 返回同一频道上除本实例外的订阅者数量
func (r *Relay) Peers(ctx context.Context) (int64, error) {
	counts, err := r.client.PubSubNumSub(ctx, r.channel).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: failed to count subscribers of %s: %w", r.channel, err)
	}
	n := counts[r.channel]
	r.mu.Lock()
	if r.started {
		n--
	}
	r.mu.Unlock()
	if n < 0 {
		n = 0
	}
	return n, nil
}

// Close 停止转发并关闭订阅
func (r *Relay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return nil
	}
	for _, unsubscribe := range r.unsubs {
		unsubscribe()
	}
	r.unsubs = nil
	err := r.pubsub.Close()
	<-r.done
	r.started = false
	r.log.Info("Relay stopped")
	return err
}
