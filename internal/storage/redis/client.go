package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	SessionTTL = 30 * 24 * time.Hour
	// MaxSubsPerUser caps stored browser push subscriptions per user; the
	// oldest is evicted when the cap is exceeded.
	MaxSubsPerUser = 10
)

type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

func (c *Client) SetSession(ctx context.Context, sessionID, userID string) error {
	return c.cli.Set(ctx, "session:"+sessionID, userID, SessionTTL).Err()
}

// GetSession returns the user id behind the session token, "" when the token
// is unknown or expired.
func (c *Client) GetSession(ctx context.Context, sessionID string) (string, error) {
	val, err := c.cli.Get(ctx, "session:"+sessionID).Result()
	if err == redis.Nil {
		return "", nil
	}
	return val, err
}

func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	return c.cli.Del(ctx, "session:"+sessionID).Err()
}

// AddPushSubscription stores the serialized subscription in push_subs:{userID}
// (a list, newest last). The list is trimmed to MaxSubsPerUser.
func (c *Client) AddPushSubscription(ctx context.Context, userID, subscription string) error {
	key := "push_subs:" + userID
	// Remove a duplicate before re-adding so re-subscribing is idempotent.
	if err := c.cli.LRem(ctx, key, 0, subscription).Err(); err != nil {
		return err
	}
	if err := c.cli.RPush(ctx, key, subscription).Err(); err != nil {
		return err
	}
	if err := c.cli.LTrim(ctx, key, -MaxSubsPerUser, -1).Err(); err != nil {
		return err
	}
	return c.cli.Expire(ctx, key, SessionTTL).Err()
}

func (c *Client) ListPushSubscriptions(ctx context.Context, userID string) ([]string, error) {
	subs, err := c.cli.LRange(ctx, "push_subs:"+userID, 0, -1).Result()
	if err == redis.Nil {
		return nil, nil
	}
	return subs, err
}

func (c *Client) RemovePushSubscription(ctx context.Context, userID, subscription string) error {
	return c.cli.LRem(ctx, "push_subs:"+userID, 0, subscription).Err()
}

// FlushDB clears the current Redis DB (sessions and subscriptions; used by tests and dev resets).
func (c *Client) FlushDB(ctx context.Context) error {
	return c.cli.FlushDB(ctx).Err()
}
