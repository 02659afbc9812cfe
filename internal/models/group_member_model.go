package models

import (
	"time"
)

// MemberRole 群成员角色
type MemberRole string

const (
	RoleAdmin  MemberRole = "admin"
	RoleMember MemberRole = "member"
)

// GroupMember 群组成员模型
type GroupMember struct {
	ID       uint       `gorm:"primaryKey" json:"id"`
	GroupID  string     `gorm:"not null;size:36;uniqueIndex:idx_group_user" json:"group_id"`
	UserID   string     `gorm:"not null;size:64;uniqueIndex:idx_group_user" json:"user_id"`
	Role     MemberRole `gorm:"not null;default:member" json:"role"`
	JoinedAt time.Time  `json:"joined_at"`
}

func (GroupMember) TableName() string {
	return "group_members"
}
