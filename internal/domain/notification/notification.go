package notification

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when a notification does not exist for the recipient.
var ErrNotFound = errors.New("notification not found")

// Type classifies a notification.
type Type string

// Notification types emitted by order settlement.
const (
	TypeNewOrder       Type = "new_order"
	TypeOrderStatus    Type = "order_status"
	TypeOrderCancelled Type = "order_cancelled"
	TypeOrderDelivered Type = "order_delivered"
	TypeReferralReward Type = "referral_reward"
)

// Message is a notification addressed to one or more recipients.
type Message struct {
	Recipients []string
	Type       Type
	Title      string
	Body       string
	Data       map[string]string
}

// Notifier delivers messages. Delivery is best-effort: Notify never reports
// failure to the caller and must not block on slow channels.
type Notifier interface {
	Notify(ctx context.Context, msg Message)
}

// Nop discards every message.
type Nop struct{}

// Notify implements Notifier.
func (Nop) Notify(context.Context, Message) {}

// Notification is the in-app record of a message for a single recipient.
type Notification struct {
	ID          string
	RecipientID string
	Type        Type
	Title       string
	Body        string
	Data        map[string]string
	Read        bool
	CreatedAt   time.Time
}

// Subscription is a browser web-push endpoint registered by a recipient.
type Subscription struct {
	RecipientID string
	Endpoint    string
	Auth        string
	P256dh      string
	CreatedAt   time.Time
}

// Repository stores in-app notifications.
type Repository interface {
	Create(ctx context.Context, n *Notification) error
	ListRecent(ctx context.Context, recipientID string, limit int) ([]Notification, error)
	MarkRead(ctx context.Context, recipientID, id string) error
}

// SubscriptionRepository stores web-push subscriptions.
type SubscriptionRepository interface {
	Save(ctx context.Context, s Subscription) error
	ListByRecipient(ctx context.Context, recipientID string) ([]Subscription, error)
	DeleteByEndpoint(ctx context.Context, endpoint string) error
}
