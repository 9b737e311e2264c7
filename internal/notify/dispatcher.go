// Package notify delivers notification messages over every channel a
// recipient can be reached on: the in-app inbox, open realtime connections
// and browser web-push subscriptions.
package notify

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront/internal/domain/notification"
)

const (
	defaultTimeout     = 10 * time.Second
	defaultConcurrency = 8
)

// Options configure a Dispatcher. Hub and Push are optional.
type Options struct {
	Notifications notification.Repository
	Subscriptions notification.SubscriptionRepository
	Hub           *Hub
	Push          PushSender

	// Timeout bounds the delivery of one message to all recipients.
	Timeout time.Duration
	// Concurrency limits parallel per-recipient deliveries.
	Concurrency int
	Clock       func() time.Time
}

// Dispatcher implements notification.Notifier. Delivery runs in the
// background and never reports failure to the caller.
type Dispatcher struct {
	notifications notification.Repository
	subscriptions notification.SubscriptionRepository
	hub           *Hub
	push          PushSender
	timeout       time.Duration
	concurrency   int
	now           func() time.Time

	wg sync.WaitGroup
}

var _ notification.Notifier = (*Dispatcher)(nil)

// NewDispatcher creates a Dispatcher.
func NewDispatcher(opts Options) (*Dispatcher, error) {
	if opts.Notifications == nil {
		return nil, errors.New("notification repository is required")
	}
	if opts.Push != nil && opts.Subscriptions == nil {
		return nil, errors.New("subscription repository is required for web push")
	}
	d := &Dispatcher{
		notifications: opts.Notifications,
		subscriptions: opts.Subscriptions,
		hub:           opts.Hub,
		push:          opts.Push,
		timeout:       opts.Timeout,
		concurrency:   opts.Concurrency,
		now:           opts.Clock,
	}
	if d.timeout <= 0 {
		d.timeout = defaultTimeout
	}
	if d.concurrency <= 0 {
		d.concurrency = defaultConcurrency
	}
	if d.now == nil {
		d.now = time.Now
	}
	return d, nil
}

// Notify implements notification.Notifier. The message outlives ctx
// cancellation but keeps its values, so request-scoped loggers still apply.
func (d *Dispatcher) Notify(ctx context.Context, msg notification.Message) {
	if len(msg.Recipients) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	d.wg.Go(func() {
		ctx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()
		d.deliver(ctx, msg)
	})
}

// Wait blocks until every in-flight message has been delivered or dropped.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) deliver(ctx context.Context, msg notification.Message) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)

	seen := make(map[string]struct{}, len(msg.Recipients))
	for _, recipient := range msg.Recipients {
		if recipient == "" {
			continue
		}
		if _, dup := seen[recipient]; dup {
			continue
		}
		seen[recipient] = struct{}{}

		g.Go(func() error {
			d.deliverTo(ctx, recipient, msg)
			return nil
		})
	}
	_ = g.Wait()
}

func (d *Dispatcher) deliverTo(ctx context.Context, recipient string, msg notification.Message) {
	lg := zctx.From(ctx).With(
		zap.String("recipient_id", recipient),
		zap.String("notification_type", string(msg.Type)),
	)

	n := &notification.Notification{
		ID:          uuid.NewString(),
		RecipientID: recipient,
		Type:        msg.Type,
		Title:       msg.Title,
		Body:        msg.Body,
		Data:        msg.Data,
		CreatedAt:   d.now(),
	}
	if err := d.notifications.Create(ctx, n); err != nil {
		lg.Warn("Store notification", zap.Error(err))
	}

	payload := EncodePayload(n)
	if d.hub != nil {
		d.hub.Publish(recipient, payload)
	}
	if d.push != nil {
		d.sendPush(ctx, lg, recipient, payload)
	}
}

func (d *Dispatcher) sendPush(ctx context.Context, lg *zap.Logger, recipient string, payload []byte) {
	subs, err := d.subscriptions.ListByRecipient(ctx, recipient)
	if err != nil {
		lg.Warn("List push subscriptions", zap.Error(err))
		return
	}
	for _, sub := range subs {
		err := d.push.Send(ctx, sub, payload)
		switch {
		case err == nil:
		case errors.Is(err, ErrSubscriptionGone):
			if err := d.subscriptions.DeleteByEndpoint(ctx, sub.Endpoint); err != nil {
				lg.Warn("Delete stale push subscription", zap.Error(err))
			}
		default:
			lg.Warn("Send web push", zap.String("endpoint", sub.Endpoint), zap.Error(err))
		}
	}
}

// EncodePayload renders the JSON document sent to realtime and push clients.
func EncodePayload(n *notification.Notification) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("id")
	e.Str(n.ID)
	e.FieldStart("type")
	e.Str(string(n.Type))
	e.FieldStart("title")
	e.Str(n.Title)
	e.FieldStart("body")
	e.Str(n.Body)
	e.FieldStart("data")
	e.ObjStart()
	for _, k := range slices.Sorted(maps.Keys(n.Data)) {
		e.FieldStart(k)
		e.Str(n.Data[k])
	}
	e.ObjEnd()
	e.FieldStart("createdAt")
	e.Str(n.CreatedAt.UTC().Format(time.RFC3339))
	e.ObjEnd()
	return e.Bytes()
}
