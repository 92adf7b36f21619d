package domain

import "time"

// GuestSession 表示一个未登录用户的限时试用会话。
// ExpiresAt 为 epoch 毫秒，nil 表示当前没有访客会话。
type GuestSession struct {
	ExpiresAt *int64 `json:"expiresAt"`
}

// Active 报告会话在 now 时刻是否仍然有效。
func (g GuestSession) Active(now time.Time) bool {
	return g.ExpiresAt != nil && now.UnixMilli() < *g.ExpiresAt
}

// Remaining 返回距离过期的剩余时间，已过期或没有会话时返回 0。
func (g GuestSession) Remaining(now time.Time) time.Duration {
	if !g.Active(now) {
		return 0
	}
	return time.Duration(*g.ExpiresAt-now.UnixMilli()) * time.Millisecond
}
