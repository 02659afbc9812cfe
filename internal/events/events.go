// Package events carries lifecycle signals to the notification channel.
// Publishing is fire-and-forget from the engine's point of view: Emit logs a
// failed publish and never returns it to the caller.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	logger "github.com/Gopher0727/Ephemera/middleware/log"
)

// Type 事件类型
type Type string

const (
	GroupExpiring   Type = "group.expiring"
	GroupArchived   Type = "group.archived"
	GroupPurged     Type = "group.purged"
	MemberJoined    Type = "member.joined"
	MemberRemoved   Type = "member.removed"
	MessageAppended Type = "message.appended"
)

// Event 生命周期事件
type Event struct {
	Type    Type      `json:"type"`
	GroupID string    `json:"group_id"`
	UserID  string    `json:"user_id,omitempty"`
	Reason  string    `json:"reason,omitempty"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload,omitempty"`
}

func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Publisher delivers one event to a channel.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// Emit publishes evt and logs instead of returning a failure.
func Emit(ctx context.Context, pub Publisher, log *zap.Logger, evt Event) {
	if pub == nil {
		return
	}
	if err := pub.Publish(ctx, evt); err != nil && log != nil {
		logger.FromContext(ctx, log).Warn("publish lifecycle event failed",
			zap.String("type", string(evt.Type)),
			zap.String("group_id", evt.GroupID),
			zap.Error(err),
		)
	}
}

// Multi fans one event out to several publishers and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, evt Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop drops every event; services fall back to it when no publisher is wired.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
