// Package push delivers Web Push notifications to browser subscriptions of
// users with no live WebSocket connection. Delivery is best effort: failures
// are logged, never propagated to the message write path.
package push

import (
	"context"
	"encoding/json"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/converse/internal/logger"
	"github.com/converse/internal/storage"
)

// Subscription is the subscription object the browser's Push API hands out.
type Subscription struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

// Notifier fans a notification out to all stored subscriptions of a user.
type Notifier struct {
	store   storage.Store
	vapid   *webpush.Options
	timeout time.Duration
}

// NewNotifier builds a notifier. subscriber is the contact email embedded in
// VAPID claims. A nil return from EnsureVAPIDKeys upstream means push is
// disabled; callers pass nil options and Notify becomes a no-op.
func NewNotifier(store storage.Store, keys *VAPIDKeys, subscriber string) *Notifier {
	n := &Notifier{store: store, timeout: 10 * time.Second}
	if keys != nil && keys.PublicKey != "" && keys.PrivateKey != "" {
		n.vapid = &webpush.Options{
			Subscriber:      subscriber,
			VAPIDPublicKey:  keys.PublicKey,
			VAPIDPrivateKey: keys.PrivateKey,
			TTL:             60,
		}
	}
	return n
}

// Enabled reports whether VAPID keys are configured.
func (n *Notifier) Enabled() bool {
	return n.vapid != nil
}

// Subscribe stores a browser subscription for the user.
func (n *Notifier) Subscribe(ctx context.Context, userID string, sub Subscription) error {
	raw, err := json.Marshal(sub)
	if err != nil {
		return err
	}
	return n.store.AddPushSubscription(ctx, userID, string(raw))
}

// Unsubscribe removes the subscription with the given endpoint.
func (n *Notifier) Unsubscribe(ctx context.Context, userID, endpoint string) error {
	subs, err := n.store.ListPushSubscriptions(ctx, userID)
	if err != nil {
		return err
	}
	for _, item := range subs {
		var sub Subscription
		if json.Unmarshal([]byte(item), &sub) == nil && sub.Endpoint == endpoint {
			if err := n.store.RemovePushSubscription(ctx, userID, item); err != nil {
				return err
			}
		}
	}
	return nil
}

// Notify sends title/body/data to every subscription of the user. Endpoints
// the push service reports gone (404/410) are dropped from storage.
func (n *Notifier) Notify(ctx context.Context, userID, title, body string, data map[string]string) {
	if n.vapid == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	list, err := n.store.ListPushSubscriptions(ctx, userID)
	if err != nil {
		logger.Errorf("push notify list user=%s: %v", userID, err)
		return
	}
	if len(list) == 0 {
		return
	}
	payload, _ := json.Marshal(map[string]any{"title": title, "body": body, "data": data})

	for _, item := range list {
		var sub Subscription
		if json.Unmarshal([]byte(item), &sub) != nil || sub.Endpoint == "" {
			continue
		}
		wpSub := &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys:     webpush.Keys{P256dh: sub.Keys.P256dh, Auth: sub.Keys.Auth},
		}
		resp, err := webpush.SendNotificationWithContext(ctx, payload, wpSub, n.vapid)
		if err != nil {
			logger.Errorf("push send user=%s endpoint=%s: %v", userID, truncate(sub.Endpoint, 50), err)
			continue
		}
		resp.Body.Close()
		if resp.StatusCode == 410 || resp.StatusCode == 404 {
			if err := n.store.RemovePushSubscription(ctx, userID, item); err != nil {
				logger.Errorf("push drop gone endpoint user=%s: %v", userID, err)
			}
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
