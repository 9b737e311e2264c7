package notify

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/go-faster/errors"

	"github.com/xenking/storefront/internal/domain/notification"
)

// ErrSubscriptionGone is returned when the push service reports that a
// subscription no longer exists.
var ErrSubscriptionGone = errors.New("push subscription gone")

// PushSender delivers a payload to a single browser subscription.
type PushSender interface {
	Send(ctx context.Context, sub notification.Subscription, payload []byte) error
}

// PushConfig holds the VAPID credentials used to sign web-push requests.
type PushConfig struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	// Subscriber is the contact email or https URL reported to push
	// services. A mailto: prefix is optional.
	Subscriber string
	TTL        time.Duration
	HTTPClient *http.Client
}

// Enabled reports whether both VAPID keys are configured.
func (c PushConfig) Enabled() bool {
	return c.VAPIDPublicKey != "" && c.VAPIDPrivateKey != ""
}

// WebPush sends encrypted web-push messages with VAPID authentication.
type WebPush struct {
	cfg PushConfig
}

var _ PushSender = (*WebPush)(nil)

// NewWebPush creates a WebPush sender.
func NewWebPush(cfg PushConfig) (*WebPush, error) {
	if !cfg.Enabled() {
		return nil, errors.New("vapid keys are required")
	}
	// webpush adds the mailto: scheme to anything that is not an https URL.
	cfg.Subscriber = strings.TrimPrefix(cfg.Subscriber, "mailto:")
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebPush{cfg: cfg}, nil
}

// Send implements PushSender.
func (p *WebPush) Send(ctx context.Context, sub notification.Subscription, payload []byte) error {
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			Auth:   sub.Auth,
			P256dh: sub.P256dh,
		},
	}, &webpush.Options{
		HTTPClient:      p.cfg.HTTPClient,
		Subscriber:      p.cfg.Subscriber,
		TTL:             int(p.cfg.TTL / time.Second),
		Urgency:         webpush.UrgencyNormal,
		VAPIDPublicKey:  p.cfg.VAPIDPublicKey,
		VAPIDPrivateKey: p.cfg.VAPIDPrivateKey,
	})
	if err != nil {
		return errors.Wrap(err, "send web push")
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusGone:
		return ErrSubscriptionGone
	case resp.StatusCode >= 400:
		return errors.Errorf("push service responded %d", resp.StatusCode)
	}
	return nil
}
