package notification

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRepo struct {
	limit    int
	markedID string
}

func (s *stubRepo) Create(context.Context, *Notification) error { return nil }

func (s *stubRepo) ListRecent(_ context.Context, recipientID string, limit int) ([]Notification, error) {
	s.limit = limit
	return []Notification{{ID: "n-1", RecipientID: recipientID}}, nil
}

func (s *stubRepo) MarkRead(_ context.Context, _, id string) error {
	if id == "missing" {
		return ErrNotFound
	}
	s.markedID = id
	return nil
}

type stubSubs struct {
	saved []Subscription
}

func (s *stubSubs) Save(_ context.Context, sub Subscription) error {
	s.saved = append(s.saved, sub)
	return nil
}

func (s *stubSubs) ListByRecipient(context.Context, string) ([]Subscription, error) { return nil, nil }
func (s *stubSubs) DeleteByEndpoint(context.Context, string) error             { return nil }

func TestInbox(t *testing.T) {
	repo := &stubRepo{}
	subs := &stubSubs{}
	inbox := NewInbox(repo, subs)
	ctx := context.Background()

	list, err := inbox.List(ctx, "buyer-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, inboxLimit, repo.limit)

	require.NoError(t, inbox.MarkRead(ctx, "buyer-1", "n-1"))
	assert.Equal(t, "n-1", repo.markedID)
	require.ErrorIs(t, inbox.MarkRead(ctx, "buyer-1", "missing"), ErrNotFound)
}

func TestInbox_Subscribe(t *testing.T) {
	tests := []struct {
		name    string
		sub     Subscription
		wantErr error
	}{
		{
			name: "Valid",
			sub:  Subscription{RecipientID: "buyer-1", Endpoint: "  https://push.example/1 ", Auth: "a", P256dh: "p"},
		},
		{
			name:    "MissingEndpoint",
			sub:     Subscription{RecipientID: "buyer-1", Endpoint: "   ", Auth: "a", P256dh: "p"},
			wantErr: ErrInvalidSubscription,
		},
		{
			name:    "MissingKeys",
			sub:     Subscription{RecipientID: "buyer-1", Endpoint: "https://push.example/1"},
			wantErr: ErrInvalidSubscription,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subs := &stubSubs{}
			err := NewInbox(&stubRepo{}, subs).Subscribe(context.Background(), tt.sub)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Empty(t, subs.saved)
				return
			}
			require.NoError(t, err)
			require.Len(t, subs.saved, 1)
			assert.Equal(t, "https://push.example/1", subs.saved[0].Endpoint)
			assert.False(t, subs.saved[0].CreatedAt.IsZero())
		})
	}
}
