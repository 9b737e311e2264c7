package buyer

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const addressListLimit = 10

// RegisterRequest holds the input for creating a buyer account.
type RegisterRequest struct {
	Username     string
	Phone        string
	Password     string
	ReferralCode string
}

// ReferralSummary describes a buyer's referral standing.
type ReferralSummary struct {
	Code           string
	Coins          int64
	TotalReferrals int
	History        []ReferralEntry
}

// Service implements buyer registration, authentication and referral
// bookkeeping on top of the Ledger.
type Service struct {
	ledger    Ledger
	addresses AddressBook
	tx        Transactor
	issuer    *CodeIssuer
	hasher    PasswordHasher
	now       func() time.Time
}

// NewService creates a buyer Service.
func NewService(
	ledger Ledger,
	addresses AddressBook,
	tx Transactor,
	issuer *CodeIssuer,
	hasher PasswordHasher,
) *Service {
	return &Service{
		ledger:    ledger,
		addresses: addresses,
		tx:        tx,
		issuer:    issuer,
		hasher:    hasher,
		now:       time.Now,
	}
}

// Register creates a buyer. When req.ReferralCode resolves to an existing
// buyer, the new account is linked to it and the referrer's referral counter
// is incremented in the same transaction. Unknown codes are ignored.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*Buyer, error) {
	b := &Buyer{
		ID:        uuid.New().String(),
		Username:  strings.TrimSpace(req.Username),
		Phone:     strings.TrimSpace(req.Phone),
		CreatedAt: s.now(),
	}
	if req.Password != "" {
		hash, err := s.hasher.Hash(req.Password)
		if err != nil {
			return nil, errors.Wrap(err, "hash password")
		}
		b.PasswordHash = hash
	}

	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var referrer *Buyer
		if code := NormalizeCode(req.ReferralCode); code != "" {
			r, err := s.ledger.GetByReferralCode(ctx, code)
			switch {
			case errors.Is(err, ErrNotFound):
				zctx.From(ctx).Info("Ignoring unknown referral code", zap.String("code", code))
			case err != nil:
				return errors.Wrap(err, "resolve referral code")
			default:
				referrer = r
				b.ReferredBy = r.ID
			}
		}

		if err := s.ledger.Create(ctx, b); err != nil {
			return errors.Wrap(err, "create buyer")
		}
		if referrer != nil {
			if err := s.ledger.IncrementReferrals(ctx, referrer.ID); err != nil {
				return errors.Wrap(err, "increment referrals")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Authenticate verifies a username (or phone) and password pair.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*Buyer, error) {
	b, err := s.ledger.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, errors.Wrap(err, "get buyer")
	}
	if b.PasswordHash == "" {
		return nil, ErrInvalidCredentials
	}
	if err := s.hasher.Compare(b.PasswordHash, password); err != nil {
		return nil, ErrInvalidCredentials
	}
	return b, nil
}

// Get returns a buyer by ID.
func (s *Service) Get(ctx context.Context, id string) (*Buyer, error) {
	return s.ledger.GetByID(ctx, id)
}

// EnsureReferralCode returns the buyer's referral code, issuing one on first use.
func (s *Service) EnsureReferralCode(ctx context.Context, buyerID string) (string, error) {
	b, err := s.ledger.GetByID(ctx, buyerID)
	if err != nil {
		return "", err
	}
	if b.ReferralCode != "" {
		return b.ReferralCode, nil
	}

	code, err := s.issuer.Assign(ctx, buyerID)
	if err != nil {
		return "", errors.Wrap(err, "assign referral code")
	}
	return code, nil
}

// ReferralSummary returns the buyer's code, balance and reward history.
func (s *Service) ReferralSummary(ctx context.Context, buyerID string) (*ReferralSummary, error) {
	if _, err := s.EnsureReferralCode(ctx, buyerID); err != nil {
		return nil, err
	}
	// Re-read so a code stored by a concurrent request wins.
	b, err := s.ledger.GetByID(ctx, buyerID)
	if err != nil {
		return nil, err
	}
	history, err := s.ledger.ReferralHistory(ctx, buyerID)
	if err != nil {
		return nil, errors.Wrap(err, "referral history")
	}
	return &ReferralSummary{
		Code:           b.ReferralCode,
		Coins:          b.ReferralCoins,
		TotalReferrals: b.TotalReferrals,
		History:        history,
	}, nil
}

// Addresses returns saved addresses, most recently used first.
func (s *Service) Addresses(ctx context.Context, buyerID string) ([]SavedAddress, error) {
	return s.addresses.ListRecent(ctx, buyerID, addressListLimit)
}
