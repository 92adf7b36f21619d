// Package room 把一场会议的总线、状态 Store 和跨进程 relay 组合成一个有生命周期的对象。
package room

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/221fa04357-prog/connect-pro/internal/domain"
	"github.com/221fa04357-prog/connect-pro/internal/eventbus"
	"github.com/221fa04357-prog/connect-pro/internal/speaker"
	"github.com/221fa04357-prog/connect-pro/internal/store"
)

// SyncedEvents 是需要跨进程转发的事件，聊天只在本进程内投递。
var SyncedEvents = []string{
	eventbus.EventParticipantsSync,
	eventbus.EventMeetingSync,
	eventbus.EventReactionAdded,
	eventbus.EventReactionRemoved,
	eventbus.EventSyncRequest,
	eventbus.EventSyncDone,
	eventbus.EventParticipantsResync,
	eventbus.EventMeetingResync,
}

// DefaultSyncTimeout 新房间等待其他实例应答状态请求的最长时间
const DefaultSyncTimeout = time.Second

var ErrRoomClosed = errors.New("room is closed")

// Relay 把房间总线连接到其他进程
type Relay interface {
	Start(ctx context.Context) error
	Close() error
}

// PeerCounter 由能够统计同一房间其他实例数的 Relay 实现
type PeerCounter interface {
	Peers(ctx context.Context) (int64, error)
}

// SyncRequest 是 sync:request 和 sync:done 事件的载荷
type SyncRequest struct {
	Requester string `json:"requester"`
}

// RelayFactory 为某个房间创建 Relay
type RelayFactory func(meetingID, instanceID string, bus *eventbus.Bus) Relay

// Room 持有一场会议在本进程内的全部状态
type Room struct {
	ID           string
	InstanceID   string
	Bus          *eventbus.Bus
	Meeting      *store.MeetingStore
	Participants *store.ParticipantsStore
	Chat         *store.ChatStore

	relay     Relay
	synced    chan struct{}
	syncOnce  sync.Once
	unsubs    []func()
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	log       *logrus.Entry
}

// Options 是创建房间时的可选配置
type Options struct {
	ReactionTTL      time.Duration
	RelayFactory     RelayFactory
	SyncTimeout      time.Duration
	SimulateSpeakers bool
	SpeakerOptions   []speaker.Option
}

func newRoom(ctx context.Context, m domain.Meeting, opts Options) (*Room, error) {
	bus := eventbus.New()
	instanceID := eventbus.NewInstanceID()
	meeting := store.NewMeetingStore(bus, instanceID, store.WithReactionTTL(opts.ReactionTTL))
	meeting.SetMeeting(m)

	r := &Room{
		ID:           m.ID,
		InstanceID:   instanceID,
		Bus:          bus,
		Meeting:      meeting,
		Participants: store.NewParticipantsStore(bus, instanceID, meeting),
		Chat:         store.NewChatStore(bus, m.ID, instanceID),
		synced:       make(chan struct{}),
		log:          logrus.WithFields(logrus.Fields{"component": "room", "meeting_id": m.ID, "instance": instanceID}),
	}
	// 房间的生命周期与创建它的请求无关
	r.ctx, r.cancel = context.WithCancel(context.Background())

	if opts.RelayFactory != nil {
		r.unsubs = []func(){
			bus.Subscribe(eventbus.EventSyncRequest, r.onSyncRequest),
			bus.Subscribe(eventbus.EventSyncDone, r.onSyncDone),
		}
		r.relay = opts.RelayFactory(m.ID, instanceID, bus)
		if err := r.relay.Start(ctx); err != nil {
			r.relay = nil
			r.Close()
			return nil, err
		}
		timeout := opts.SyncTimeout
		if timeout <= 0 {
			timeout = DefaultSyncTimeout
		}
		// 第一次本地写入之前先追上其他实例的状态
		r.catchUp(ctx, timeout)
	}
	if opts.SimulateSpeakers {
		go speaker.New(r.Participants, opts.SpeakerOptions...).Run(r.ctx)
	}
	r.log.Info("Room opened")
	return r, nil
}

// catchUp 向其他实例请求当前状态，收到第一个应答、超时或没有其他实例时返回
func (r *Room) catchUp(ctx context.Context, timeout time.Duration) {
	if pc, ok := r.relay.(PeerCounter); ok {
		n, err := pc.Peers(ctx)
		if err == nil && n == 0 {
			r.log.Debug("No peers for room, skipping state sync")
			return
		}
		if err != nil {
			r.log.WithError(err).Warn("Failed to count peers, requesting state anyway")
		}
	}
	r.Bus.Publish(eventbus.EventSyncRequest, SyncRequest{Requester: r.InstanceID}, eventbus.Meta{Source: r.InstanceID})

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-r.synced:
		r.log.Info("Room state caught up from peer")
	case <-timer.C:
		r.log.Warn("No peer answered state sync, starting from local state")
	case <-ctx.Done():
		r.log.WithError(ctx.Err()).Warn("State sync cancelled")
	}
}

// onSyncRequest 把本地快照发给新打开的实例，最后发送 sync:done
func (r *Room) onSyncRequest(payload any, meta eventbus.Meta) {
	if meta.Source == r.InstanceID {
		return
	}
	req, err := eventbus.Decode[SyncRequest](payload)
	if err != nil || req.Requester == "" {
		r.log.WithError(err).Warn("Ignoring malformed sync request")
		return
	}
	r.Meeting.ResyncTo(req.Requester)
	r.Participants.ResyncTo(req.Requester)
	r.Bus.Publish(eventbus.EventSyncDone, req, eventbus.Meta{Source: r.InstanceID})
}

func (r *Room) onSyncDone(payload any, meta eventbus.Meta) {
	if meta.Source == r.InstanceID {
		return
	}
	done, err := eventbus.Decode[SyncRequest](payload)
	if err != nil || done.Requester != r.InstanceID {
		return
	}
	r.syncOnce.Do(func() { close(r.synced) })
}

// Done 在房间关闭后被关闭
func (r *Room) Done() <-chan struct{} {
	return r.ctx.Done()
}

// Closed 报告房间是否已关闭
func (r *Room) Closed() bool {
	return r.ctx.Err() != nil
}

// Close 停止 relay、模拟器和所有计时器，并退出会议。可以重复调用。
func (r *Room) Close() {
	r.closeOnce.Do(func() {
		r.cancel()
		for _, unsubscribe := range r.unsubs {
			unsubscribe()
		}
		if r.relay != nil {
			if err := r.relay.Close(); err != nil {
				r.log.WithError(err).Warn("Error closing relay")
			}
		}
		r.Participants.Close()
		r.Meeting.Close()
		r.Meeting.LeaveMeeting()
		r.log.Info("Room closed")
	})
}
