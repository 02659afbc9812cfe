package repositories

import "errors"

var (
	ErrGroupNotFound       = errors.New("group not found")
	ErrMemberNotFound      = errors.New("member not found")
	ErrAlreadyMember       = errors.New("user is already a member of this group")
	ErrTransitionConflict  = errors.New("group changed since it was read")
	ErrInviteCollision     = errors.New("invite code already in use")
	ErrInviteUnusable      = errors.New("invite code is expired or the group is not active")
	ErrGroupNotLive        = errors.New("group is archived")
	ErrMessageLimitReached = errors.New("group message limit reached")
	ErrNotGroupMember      = errors.New("sender is not a member of this group")
)
