// Package domain 定义了会议系统中使用的核心数据结构。
package domain

import "time"

// Role 表示参会者在会议中的角色。
type Role string

const (
	RoleHost        Role = "host"
	RoleCoHost      Role = "co-host"
	RoleParticipant Role = "participant"
)

// Valid 检查角色是否为已知取值。
func (r Role) Valid() bool {
	switch r {
	case RoleHost, RoleCoHost, RoleParticipant:
		return true
	}
	return false
}

// SubscriptionPlan 表示用户的订阅等级。
type SubscriptionPlan string

const (
	PlanFree       SubscriptionPlan = "free"
	PlanPro        SubscriptionPlan = "pro"
	PlanEnterprise SubscriptionPlan = "enterprise"
)

// Valid 检查订阅等级是否为已知取值。
func (p SubscriptionPlan) Valid() bool {
	switch p {
	case PlanFree, PlanPro, PlanEnterprise:
		return true
	}
	return false
}

// User 表示一个注册用户。
// 设备上的登录状态 (Auth Store) 只保存 JSON 字段，PasswordHash 永远不会序列化出去。
type User struct {
	ID               string           `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name             string           `gorm:"type:varchar(191);not null" json:"name"`
	Email            string           `gorm:"type:varchar(191);uniqueIndex:idx_email;not null" json:"email"`
	PasswordHash     string           `gorm:"type:text;not null" json:"-"`
	SubscriptionPlan SubscriptionPlan `gorm:"type:varchar(20);not null;default:'free'" json:"subscriptionPlan,omitempty"`
	Role             Role             `gorm:"type:varchar(20)" json:"role,omitempty"`
	CreatedAt        time.Time        `gorm:"autoCreateTime" json:"-"`
	UpdatedAt        time.Time        `gorm:"autoUpdateTime" json:"-"`
}
