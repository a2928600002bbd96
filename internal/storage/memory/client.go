package memory

import (
	"context"
	"sync"
	"time"
)

const (
	sessionTTL     = 30 * 24 * time.Hour
	maxSubsPerUser = 10
)

type item struct {
	val string
	exp time.Time
}

type Client struct {
	mu       sync.RWMutex
	sessions map[string]item
	subs     map[string][]string
}

func New() *Client {
	return &Client{
		sessions: make(map[string]item),
		subs:     make(map[string][]string),
	}
}

func (c *Client) Close() error { return nil }

func (c *Client) SetSession(ctx context.Context, sessionID, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[sessionID] = item{val: userID, exp: time.Now().Add(sessionTTL)}
	return nil
}

func (c *Client) GetSession(ctx context.Context, sessionID string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.sessions[sessionID]
	if !ok || time.Now().After(v.exp) {
		return "", nil
	}
	return v.val, nil
}

func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, sessionID)
	return nil
}

func (c *Client) AddPushSubscription(ctx context.Context, userID, subscription string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.subs[userID][:0:0]
	for _, s := range c.subs[userID] {
		if s != subscription {
			kept = append(kept, s)
		}
	}
	kept = append(kept, subscription)
	if len(kept) > maxSubsPerUser {
		kept = kept[len(kept)-maxSubsPerUser:]
	}
	c.subs[userID] = kept
	return nil
}

func (c *Client) ListPushSubscriptions(ctx context.Context, userID string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.subs[userID]...), nil
}

func (c *Client) RemovePushSubscription(ctx context.Context, userID, subscription string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.subs[userID][:0:0]
	for _, s := range c.subs[userID] {
		if s != subscription {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		delete(c.subs, userID)
		return nil
	}
	c.subs[userID] = kept
	return nil
}
