package services

import (
	"errors"
)

var (
	ErrInvalidPolicy  = errors.New("invalid expiration policy")
	ErrInvalidRequest = errors.New("invalid request")
	ErrInviteCapacity = errors.New("could not allocate a unique invite code, retry later")
	ErrInvalidInvite  = errors.New("invite code is invalid or expired")
	ErrGroupNotActive = errors.New("group is not active")
	ErrNotAdmin       = errors.New("only group admins can do this")
)

// Reason 拒绝原因，直接返回给客户端用于展示
type Reason string

const (
	ReasonInvalidOrExpiredCode Reason = "invalid_or_expired_code"
	ReasonAlreadyMember        Reason = "already_member"
	ReasonGroupNotActive       Reason = "group_not_active"
	ReasonNotAdmin             Reason = "not_admin"
	ReasonCreatorImmune        Reason = "creator_immune"
	ReasonNotAMember           Reason = "not_a_member"
)

// rejection aborts a transaction with a user-facing reason.
type rejection struct {
	reason Reason
}

func (r *rejection) Error() string { return string(r.reason) }

func reject(reason Reason) error { return &rejection{reason: reason} }

func asRejection(err error) (Reason, bool) {
	var r *rejection
	if errors.As(err, &r) {
		return r.reason, true
	}
	return "", false
}
