package models

import (
	"time"
)

// GroupStatus 群组生命周期状态，只能 active -> expiring -> archived 单向推进
type GroupStatus string

const (
	StatusActive   GroupStatus = "active"
	StatusExpiring GroupStatus = "expiring"
	StatusArchived GroupStatus = "archived"
)

// rank orders statuses along the only permitted direction of travel.
func (s GroupStatus) rank() int {
	switch s {
	case StatusActive:
		return 0
	case StatusExpiring:
		return 1
	case StatusArchived:
		return 2
	default:
		return -1
	}
}

// Valid 是否为已知状态
func (s GroupStatus) Valid() bool { return s.rank() >= 0 }

// CanTransitionTo reports whether moving from s to next is a forward step.
// Archived is terminal.
func (s GroupStatus) CanTransitionTo(next GroupStatus) bool {
	return s.Valid() && next.Valid() && next.rank() > s.rank()
}

// Live 未归档
func (s GroupStatus) Live() bool {
	return s == StatusActive || s == StatusExpiring
}

// ArchiveReason 归档原因
type ArchiveReason string

const (
	ReasonNone         ArchiveReason = ""
	ReasonTimeExpired  ArchiveReason = "time_expired"
	ReasonInactive     ArchiveReason = "inactive"
	ReasonMessageLimit ArchiveReason = "message_limit"
	ReasonManual       ArchiveReason = "manual"
)

// ExpirationPolicy 过期策略，三个触发条件均可选
type ExpirationPolicy struct {
	AbsoluteExpiry          *time.Time `json:"absolute_expiry,omitempty"`
	InactivityThresholdDays *int       `json:"inactivity_threshold_days,omitempty"`
	MessageLimit            *int64     `json:"message_limit,omitempty"`
}

// InviteCode 群组当前有效的邀请码，每个群组最多一个
type InviteCode struct {
	Code      *string    `gorm:"uniqueIndex;size:16" json:"code,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Usable 邀请码存在且在 now 时刻未过期
func (c InviteCode) Usable(now time.Time) bool {
	return c.Code != nil && c.ExpiresAt != nil && now.Before(*c.ExpiresAt)
}

// Group 临时群组模型
type Group struct {
	ID        string      `gorm:"primaryKey;size:36" json:"id"`
	Name      string      `gorm:"not null" json:"name"`
	CreatorID string      `gorm:"not null;index" json:"creator_id"`
	Status    GroupStatus `gorm:"not null;default:active;index" json:"status"`

	// Version 乐观锁版本号，消息写入和状态迁移都会递增
	Version int64 `gorm:"not null;default:1" json:"version"`

	Policy         ExpirationPolicy `gorm:"embedded" json:"policy"`
	MessageCount   int64            `gorm:"not null;default:0" json:"message_count"`
	MemberCount    int              `gorm:"not null;default:1" json:"member_count"`
	LastActivityAt time.Time        `gorm:"not null" json:"last_activity_at"`

	Invite InviteCode `gorm:"embedded;embeddedPrefix:invite_" json:"invite"`

	ArchivedAt            *time.Time     `json:"archived_at,omitempty"`
	ArchiveReason         *ArchiveReason `gorm:"size:32" json:"archive_reason,omitempty"`
	ArchiveRetentionUntil *time.Time     `gorm:"index" json:"archive_retention_until,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Members []GroupMember `gorm:"foreignKey:GroupID" json:"-"`
}

func (Group) TableName() string {
	return "groups"
}
