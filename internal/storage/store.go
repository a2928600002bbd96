package storage

import "context"

// Store holds session tokens and web push subscriptions.
// Implementations: redis.Client, memory.Client (for -dev without Redis).
type Store interface {
	SetSession(ctx context.Context, sessionID, userID string) error
	GetSession(ctx context.Context, sessionID string) (string, error)
	DeleteSession(ctx context.Context, sessionID string) error

	AddPushSubscription(ctx context.Context, userID, subscription string) error
	ListPushSubscriptions(ctx context.Context, userID string) ([]string, error)
	RemovePushSubscription(ctx context.Context, userID, subscription string) error

	Close() error
}
