package room

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/221fa04357-prog/connect-pro/internal/domain"
)

// Registry 管理本进程内所有存活的房间
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*Room
	opts  Options
	log   *logrus.Entry
}

// NewRegistry 创建 Registry
func NewRegistry(opts Options) *Registry {
	return &Registry{
		rooms: make(map[string]*Room),
		opts:  opts,
		log:   logrus.WithField("component", "room_registry"),
	}
}

// Open 返回会议对应的房间，不存在时创建。created 表示是否新建。
func (g *Registry) Open(ctx context.Context, m domain.Meeting) (r *Room, created bool, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if existing, ok := g.rooms[m.ID]; ok && !existing.Closed() {
		return existing, false, nil
	}
	r, err = newRoom(ctx, m, g.opts)
	if err != nil {
		return nil, false, fmt.Errorf("open room %s: %w", m.ID, err)
	}
	g.rooms[m.ID] = r
	g.log.WithField("meeting_id", m.ID).Debug("Room registered")
	return r, true, nil
}

// Get 查找房间
func (g *Registry) Get(id string) (*Room, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.rooms[id]
	if !ok || r.Closed() {
		return nil, false
	}
	return r, true
}

// Close 关闭并移除房间，房间不存在时返回 false。
func (g *Registry) Close(id string) bool {
	g.mu.Lock()
	r, ok := g.rooms[id]
	delete(g.rooms, id)
	g.mu.Unlock()
	if !ok {
		return false
	}
	r.Close()
	return true
}

// CloseAll 关闭所有房间 (进程退出时调用)
func (g *Registry) CloseAll() {
	g.mu.Lock()
	rooms := g.rooms
	g.rooms = make(map[string]*Room)
	g.mu.Unlock()
	for _, r := range rooms {
		r.Close()
	}
	g.log.WithField("count", len(rooms)).Info("All rooms closed")
}

// Rooms 按会议 ID 排序返回所有存活的房间
func (g *Registry) Rooms() []*Room {
	g.mu.Lock()
	out := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		if !r.Closed() {
			out = append(out, r)
		}
	}
	g.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
