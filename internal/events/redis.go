package events

import (
	"context"
	"fmt"

	"github.com/Gopher0727/Ephemera/internal/pkg/redis"
)

// RedisPublisher pushes events to subscribers of the group's pub/sub
// channels. New messages go to the message channel, everything else to the
// event channel.
type RedisPublisher struct {
	client *redis.Client
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, evt Event) error {
	value, err := evt.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", evt.Type, err)
	}
	channel := redis.EventChannel(evt.GroupID)
	if evt.Type == MessageAppended {
		channel = redis.MessageChannel(evt.GroupID)
	}
	return p.client.Publish(ctx, channel, value)
}
