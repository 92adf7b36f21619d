// Package speaker 模拟当前发言人：定期随机挑选一个未静音的参会者标记为发言中，稍后清除。
package speaker

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/221fa04357-prog/connect-pro/internal/store"
)

const (
	DefaultInterval = 5 * time.Second
	DefaultHold     = 2 * time.Second
)

// Roster 是模拟器需要的参会者操作，ParticipantsStore 实现了它
type Roster interface {
	Snapshot() store.ParticipantsSync
	SetActiveSpeaker(id string) error
	ActiveSpeaker() string
}

// Simulator 模拟发言人检测
type Simulator struct {
	roster   Roster
	interval time.Duration
	hold     time.Duration

	mu  sync.Mutex
	rnd *rand.Rand
	log *logrus.Entry
}

// Option 定制 Simulator
type Option func(*Simulator)

// WithInterval 设置挑选间隔
func WithInterval(d time.Duration) Option {
	return func(s *Simulator) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithHold 设置发言状态的保持时间
func WithHold(d time.Duration) Option {
	return func(s *Simulator) {
		if d > 0 {
			s.hold = d
		}
	}
}

// WithRand 替换随机源
func WithRand(r *rand.Rand) Option {
	return func(s *Simulator) { s.rnd = r }
}

// New 创建 Simulator
func New(roster Roster, opts ...Option) *Simulator {
	if roster == nil {
		panic("Roster cannot be nil for speaker Simulator")
	}
	s := &Simulator{
		roster:   roster,
		interval: DefaultInterval,
		hold:     DefaultHold,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
		log:      logrus.WithField("component", "speaker_simulator"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.hold >= s.interval {
		s.hold = s.interval / 2
	}
	return s
}

// Pick 随机返回一个未静音参会者的 ID，没有人可选时 ok 为 false。
func (s *Simulator) Pick() (string, bool) {
	var candidates []string
	for _, p := range s.roster.Snapshot().Participants {
		if !p.IsAudioMuted {
			candidates = append(candidates, p.ID)
		}
	}
	if len(candidates) == 0 {
		return "", false
	}
	s.mu.Lock()
	i := s.rnd.Intn(len(candidates))
	s.mu.Unlock()
	return candidates[i], true
}

// Run 阻塞运行直到 ctx 被取消。
func (s *Simulator) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.log.WithFields(logrus.Fields{"interval": s.interval, "hold": s.hold}).Debug("Speaker simulator started")

	for {
		select {
		case <-ctx.Done():
			s.log.Debug("Speaker simulator stopped")
			return
		case <-ticker.C:
			id, ok := s.Pick()
			if !ok {
				continue
			}
			if err := s.roster.SetActiveSpeaker(id); err != nil {
				// 挑选之后参会者可能已经离开
				s.log.WithError(err).WithField("participant_id", id).Debug("Could not mark active speaker")
				continue
			}
			select {
			case <-ctx.Done():
				s.clear(id)
				return
			case <-time.After(s.hold):
				s.clear(id)
			}
		}
	}
}

// clear 只在发言人没有被别处改动时清除
func (s *Simulator) clear(id string) {
	if s.roster.ActiveSpeaker() != id {
		return
	}
	_ = s.roster.SetActiveSpeaker("")
}
