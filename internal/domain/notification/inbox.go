package notification

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
)

const inboxLimit = 50

// ErrInvalidSubscription is returned for subscriptions missing endpoint or keys.
var ErrInvalidSubscription = errors.New("subscription requires endpoint and keys")

// Inbox exposes a recipient's notifications and push subscriptions.
type Inbox struct {
	notifications Repository
	subscriptions SubscriptionRepository
}

// NewInbox creates an Inbox.
func NewInbox(notifications Repository, subscriptions SubscriptionRepository) *Inbox {
	return &Inbox{notifications: notifications, subscriptions: subscriptions}
}

// List returns the most recent notifications, newest first.
func (i *Inbox) List(ctx context.Context, recipientID string) ([]Notification, error) {
	return i.notifications.ListRecent(ctx, recipientID, inboxLimit)
}

// MarkRead marks a notification as read.
func (i *Inbox) MarkRead(ctx context.Context, recipientID, id string) error {
	return i.notifications.MarkRead(ctx, recipientID, id)
}

// Subscribe registers a web-push endpoint. Re-registering an endpoint moves
// it to the new recipient.
func (i *Inbox) Subscribe(ctx context.Context, s Subscription) error {
	s.Endpoint = strings.TrimSpace(s.Endpoint)
	if s.Endpoint == "" || s.Auth == "" || s.P256dh == "" {
		return ErrInvalidSubscription
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	if err := i.subscriptions.Save(ctx, s); err != nil {
		return errors.Wrap(err, "save subscription")
	}
	return nil
}
