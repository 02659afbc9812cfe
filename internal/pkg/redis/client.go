package redis

import (
	"context"
	"fmt"
	"strconv"

	redis "github.com/redis/go-redis/v9"
)

// Client wraps the shared go-redis client with the group-scoped keys the
// service uses: per-member unread counters and the message delivery channel.
type Client struct {
	client *redis.Client
}

func NewClient(rdb *redis.Client) *Client {
	return &Client{client: rdb}
}

func (c *Client) GetClient() *redis.Client {
	return c.client
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Client) Close() error {
	return c.client.Close()
}

// UnreadKey 群组未读计数 hash，field 为用户ID
func UnreadKey(groupID string) string {
	return fmt.Sprintf("group:%s:unread", groupID)
}

// MessageChannel 群组新消息投递频道
func MessageChannel(groupID string) string {
	return fmt.Sprintf("group:%s:messages", groupID)
}

// EventChannel 群组生命周期事件频道
func EventChannel(groupID string) string {
	return fmt.Sprintf("group:%s:events", groupID)
}

// IncrUnread 给除发送者外的成员未读数 +1
func (c *Client) IncrUnread(ctx context.Context, groupID string, userIDs ...string) error {
	if len(userIDs) == 0 {
		return nil
	}
	key := UnreadKey(groupID)
	pipe := c.client.Pipeline()
	for _, uid := range userIDs {
		pipe.HIncrBy(ctx, key, uid, 1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to incr unread for group %s: %w", groupID, err)
	}
	return nil
}

// Unread 获取用户在群组中的未读数
func (c *Client) Unread(ctx context.Context, groupID, userID string) (int64, error) {
	val, err := c.client.HGet(ctx, UnreadKey(groupID), userID).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get unread for group %s: %w", groupID, err)
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt unread counter for group %s: %w", groupID, err)
	}
	return n, nil
}

// ResetUnread 清空群组全部成员的未读数（群组归档时调用）
func (c *Client) ResetUnread(ctx context.Context, groupID string) error {
	if err := c.client.Del(ctx, UnreadKey(groupID)).Err(); err != nil {
		return fmt.Errorf("failed to reset unread for group %s: %w", groupID, err)
	}
	return nil
}

// DropMemberUnread 移除单个成员的未读计数
func (c *Client) DropMemberUnread(ctx context.Context, groupID, userID string) error {
	return c.client.HDel(ctx, UnreadKey(groupID), userID).Err()
}

func (c *Client) Publish(ctx context.Context, channel string, message any) error {
	err := c.client.Publish(ctx, channel, message).Err()
	if err != nil {
		return fmt.Errorf("failed to publish to channel %s: %w", channel, err)
	}
	return nil
}

func (c *Client) Subscribe(ctx context.Context, channels ...string) (*redis.PubSub, error) {
	pubsub := c.client.Subscribe(ctx, channels...)
	// Wait for confirmation that subscription is created
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to channels: %w", err)
	}
	return pubsub, nil
}
