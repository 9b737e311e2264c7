package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/xenking/storefront/internal/domain/notification"
)

const (
	createNotificationSQL = `INSERT INTO notifications (id, recipient_id, type, title, body, data, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	listNotificationsSQL = `SELECT id, recipient_id, type, title, body, data, read, created_at
		FROM notifications WHERE recipient_id = $1 ORDER BY created_at DESC LIMIT $2`
	markReadSQL = `UPDATE notifications SET read = TRUE WHERE id = $1 AND recipient_id = $2`

	saveSubscriptionSQL = `INSERT INTO push_subscriptions (endpoint, recipient_id, auth, p256dh, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (endpoint) DO UPDATE SET
			recipient_id = EXCLUDED.recipient_id, auth = EXCLUDED.auth, p256dh = EXCLUDED.p256dh`
	listSubscriptionsSQL = `SELECT endpoint, recipient_id, auth, p256dh, created_at
		FROM push_subscriptions WHERE recipient_id = $1`
	deleteSubscriptionSQL = `DELETE FROM push_subscriptions WHERE endpoint = $1`
)

var (
	_ notification.Repository             = (*NotificationRepository)(nil)
	_ notification.SubscriptionRepository = (*SubscriptionRepository)(nil)
)

// NotificationRepository stores in-app notifications in PostgreSQL.
type NotificationRepository struct {
	db *DB
}

// NewNotificationRepository returns a NotificationRepository that uses the given DB.
func NewNotificationRepository(db *DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create inserts a notification.
func (r *NotificationRepository) Create(ctx context.Context, n *notification.Notification) error {
	data := n.Data
	if data == nil {
		data = map[string]string{}
	}
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshaling notification data: %w", err)
	}
	_, err = r.db.q(ctx).Exec(ctx, createNotificationSQL,
		n.ID, n.RecipientID, string(n.Type), n.Title, n.Body, dataJSON, n.Read, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating notification for %q: %w", n.RecipientID, err)
	}
	return nil
}

// ListRecent returns up to limit notifications for the recipient, newest first.
func (r *NotificationRepository) ListRecent(ctx context.Context, recipientID string, limit int) ([]notification.Notification, error) {
	rows, err := r.db.q(ctx).Query(ctx, listNotificationsSQL, recipientID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing notifications: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (notification.Notification, error) {
		var (
			n        notification.Notification
			typ      string
			dataJSON []byte
		)
		if err := row.Scan(&n.ID, &n.RecipientID, &typ, &n.Title, &n.Body, &dataJSON, &n.Read, &n.CreatedAt); err != nil {
			return n, err
		}
		n.Type = notification.Type(typ)
		if err := json.Unmarshal(dataJSON, &n.Data); err != nil {
			return n, fmt.Errorf("unmarshaling notification data: %w", err)
		}
		return n, nil
	})
}

// MarkRead flags a recipient's notification as read.
func (r *NotificationRepository) MarkRead(ctx context.Context, recipientID, id string) error {
	tag, err := r.db.q(ctx).Exec(ctx, markReadSQL, id, recipientID)
	if err != nil {
		return fmt.Errorf("marking notification %q read: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return notification.ErrNotFound
	}
	return nil
}

// SubscriptionRepository stores web-push subscriptions in PostgreSQL.
type SubscriptionRepository struct {
	db *DB
}

// NewSubscriptionRepository returns a SubscriptionRepository that uses the given DB.
func NewSubscriptionRepository(db *DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

// Save registers an endpoint. Re-subscribing moves it to the new recipient.
func (r *SubscriptionRepository) Save(ctx context.Context, s notification.Subscription) error {
	_, err := r.db.q(ctx).Exec(ctx, saveSubscriptionSQL, s.Endpoint, s.RecipientID, s.Auth, s.P256dh, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("saving push subscription: %w", err)
	}
	return nil
}

// ListByRecipient returns every endpoint registered by the recipient.
func (r *SubscriptionRepository) ListByRecipient(ctx context.Context, recipientID string) ([]notification.Subscription, error) {
	rows, err := r.db.q(ctx).Query(ctx, listSubscriptionsSQL, recipientID)
	if err != nil {
		return nil, fmt.Errorf("listing push subscriptions: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (notification.Subscription, error) {
		var s notification.Subscription
		err := row.Scan(&s.Endpoint, &s.RecipientID, &s.Auth, &s.P256dh, &s.CreatedAt)
		return s, err
	})
}

// DeleteByEndpoint removes an endpoint. Missing endpoints are ignored.
func (r *SubscriptionRepository) DeleteByEndpoint(ctx context.Context, endpoint string) error {
	if _, err := r.db.q(ctx).Exec(ctx, deleteSubscriptionSQL, endpoint); err != nil {
		return fmt.Errorf("deleting push subscription: %w", err)
	}
	return nil
}
