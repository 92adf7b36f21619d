// Package store 实现会议客户端的状态容器：登录、访客会话、参会者、会议和聊天。
// 参会者和会议状态在每次变更后发布到 eventbus，其他实例据此收敛到同一状态。
package store

import (
	"errors"
	"time"

	"github.com/221fa04357-prog/connect-pro/internal/eventbus"
)

// 本地存储使用的 key
const (
	AuthStorageKey         = "connectpro_auth"
	GuestSessionStorageKey = "connectpro_guest_session"
)

var (
	ErrParticipantNotFound = errors.New("participant not found")
	ErrHostRemoval         = errors.New("host cannot be removed before transferring the host role")
	ErrHostRoleChange      = errors.New("current host role cannot be changed this way")
	ErrNoActiveMeeting     = errors.New("no active meeting")
	ErrInvalidDuration     = errors.New("extension must be a positive number of minutes")
	ErrInvalidViewMode     = errors.New("invalid view mode")
	ErrInvalidPlan         = errors.New("invalid subscription plan")
	ErrInvalidMessage      = errors.New("invalid chat message")
	ErrReactionNotFound    = errors.New("reaction not found")
)

// Clock 返回当前时间，测试中可以替换。
type Clock func() time.Time

// version 是一个 Lamport 逻辑时钟加上最后写入者的实例 ID。
// 两个实例并发写入时按 (seq, source) 的字典序决出胜者，所有实例收敛到同一个结果。
type version struct {
	seq    uint64
	source string
}

// next 为本地写入推进时钟，返回要随事件发布的元信息。
func (v *version) next(instanceID string) eventbus.Meta {
	v.seq++
	v.source = instanceID
	return eventbus.Meta{Source: instanceID, Seq: v.seq}
}

// accept 判断远端快照是否比本地新，是则推进时钟。
func (v *version) accept(meta eventbus.Meta) bool {
	if meta.Seq < v.seq || (meta.Seq == v.seq && meta.Source <= v.source) {
		return false
	}
	v.seq = meta.Seq
	v.source = meta.Source
	return true
}

// Resync 是发给某个新实例的定向快照，Seq 和 Origin 是应答方当前的版本。
// 只有 Requester 会应用它，其他实例不受影响。
type Resync[T any] struct {
	Requester string `json:"requester"`
	Seq       uint64 `json:"seq"`
	Origin    string `json:"origin"`
	State     T      `json:"state"`
}

// meta 返回快照自身的版本，而不是转发它的实例
func (r Resync[T]) meta() eventbus.Meta {
	return eventbus.Meta{Source: r.Origin, Seq: r.Seq}
}
