// Package eventbus 提供进程内的发布/订阅总线，用来在多个状态实例之间同步会议状态。
package eventbus

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// 总线上使用的事件名
const (
	EventParticipantsSync = "participants:sync"
	EventMeetingSync      = "meeting:sync"
	EventReactionAdded    = "reaction:added"
	EventReactionRemoved  = "reaction:removed"
	EventChatMessage      = "chat:message"
	EventChatTyping       = "chat:typing"

	// 新实例打开房间时的状态追赶
	EventSyncRequest        = "sync:request"
	EventSyncDone           = "sync:done"
	EventParticipantsResync = "participants:resync"
	EventMeetingResync      = "meeting:resync"
)

// Meta 随事件一起传递的元信息。
// Source 是发布方的实例 ID，Seq 是发布方的逻辑时钟。
type Meta struct {
	Source string `json:"source,omitempty"`
	Seq    uint64 `json:"seq,omitempty"`
}

// Listener 是订阅者的回调函数。
type Listener func(payload any, meta Meta)

// registration 用指针区分每一次订阅，取消订阅时只移除这一项。
type registration struct {
	listener Listener
}

// Bus 按事件名维护监听者列表，Publish 同步地按注册顺序逐个投递。
type Bus struct {
	mu        sync.RWMutex
	listeners map[string][]*registration
	log       *logrus.Entry
}

// New 创建一个空的 Bus。
func New() *Bus {
	return &Bus{
		listeners: make(map[string][]*registration),
		log:       logrus.WithField("component", "eventbus"),
	}
}

// Publish 把 payload 投递给 event 的所有监听者。
// 单个监听者 panic 会被记录，不影响其余监听者。没有监听者时直接返回。
func (b *Bus) Publish(event string, payload any, meta Meta) {
	b.mu.RLock()
	// 复制一份列表，回调里可以安全地订阅或取消订阅
	list := make([]*registration, len(b.listeners[event]))
	copy(list, b.listeners[event])
	b.mu.RUnlock()

	for _, reg := range list {
		b.deliver(event, reg, payload, meta)
	}
}

func (b *Bus) deliver(event string, reg *registration, payload any, meta Meta) {
	defer func() {
		if r := recover(); r != nil {
			b.log.WithFields(logrus.Fields{
				"event":  event,
				"source": meta.Source,
			}).Errorf("eventbus listener error: %v", r)
		}
	}()
	reg.listener(payload, meta)
}

// Subscribe 注册监听者，返回的函数只移除这一次注册，重复调用无副作用。
func (b *Bus) Subscribe(event string, listener Listener) func() {
	reg := &registration{listener: listener}
	b.mu.Lock()
	b.listeners[event] = append(b.listeners[event], reg)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			list := b.listeners[event]
			for i, r := range list {
				if r == reg {
					b.listeners[event] = append(list[:i:i], list[i+1:]...)
					break
				}
			}
			if len(b.listeners[event]) == 0 {
				delete(b.listeners, event)
			}
		})
	}
}

// ListenerCount 返回 event 当前的监听者数量。
func (b *Bus) ListenerCount(event string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners[event])
}

// NewInstanceID 生成一个 8 位的随机实例 ID。
func NewInstanceID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// Decode 把 payload 转成 T。
// 本进程内发布的是类型化的值，经过 relay 转发的是 JSON 原文。
func Decode[T any](payload any) (T, error) {
	var out T
	switch v := payload.(type) {
	case T:
		return v, nil
	case *T:
		if v == nil {
			return out, fmt.Errorf("eventbus: nil %T payload", v)
		}
		return *v, nil
	case json.RawMessage:
		err := json.Unmarshal(v, &out)
		return out, err
	case []byte:
		err := json.Unmarshal(v, &out)
		return out, err
	default:
		return out, fmt.Errorf("eventbus: unexpected payload type %T", payload)
	}
}
