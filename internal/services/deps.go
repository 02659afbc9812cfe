package services

import (
	"context"
)

// UnreadCounter keeps per-member unread counts outside the database.
// *redis.Client from internal/pkg/redis satisfies it.
type UnreadCounter interface {
	IncrUnread(ctx context.Context, groupID string, userIDs ...string) error
	ResetUnread(ctx context.Context, groupID string) error
	DropMemberUnread(ctx context.Context, groupID, userID string) error
}
