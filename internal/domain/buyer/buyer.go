package buyer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a buyer does not exist.
	ErrNotFound = errors.New("buyer not found")
	// ErrAlreadyExists is returned when the username or phone is taken.
	ErrAlreadyExists = errors.New("username or phone already registered")
	// ErrInsufficientCoins is returned when a debit would drive the balance negative.
	ErrInsufficientCoins = errors.New("insufficient referral coins")
	// ErrReferralCodeTaken is returned when a referral code collides on write.
	ErrReferralCodeTaken = errors.New("referral code already taken")
	// ErrInvalidCredentials is returned when login fails.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Buyer is a storefront customer and the owner of a referral-coin balance.
type Buyer struct {
	ID             string
	Username       string
	Phone          string
	PasswordHash   string
	ReferralCode   string
	ReferredBy     string
	ReferralCoins  int64
	TotalReferrals int
	CreatedAt      time.Time
}

// HasReferrer reports whether the buyer registered with someone's code.
func (b *Buyer) HasReferrer() bool {
	return b.ReferredBy != ""
}

// ReferralEntry is one reward event in a referrer's history.
type ReferralEntry struct {
	ReferredUser string
	OrderID      string
	CoinsEarned  int64
	OrderAmount  decimal.Decimal
	CreatedAt    time.Time
}

// Address is a shipping address captured at checkout.
type Address struct {
	FullName   string `json:"fullName"`
	Phone      string `json:"phone"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country"`
}

// IsZero reports whether no address fields are set.
func (a Address) IsZero() bool {
	return a == Address{}
}

// Fingerprint identifies an address independently of case and surrounding
// whitespace, so saving the same address twice updates one entry.
func (a Address) Fingerprint() string {
	parts := []string{a.FullName, a.Phone, a.Line1, a.Line2, a.City, a.Region, a.PostalCode, a.Country}
	for i, p := range parts {
		parts[i] = strings.ToLower(strings.TrimSpace(p))
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// SavedAddress is an address in a buyer's address book.
type SavedAddress struct {
	ID         string
	Address    Address
	LastUsedAt time.Time
}

// Ledger is the persistence contract for buyers and their coin balances.
type Ledger interface {
	Create(ctx context.Context, b *Buyer) error
	GetByID(ctx context.Context, id string) (*Buyer, error)
	GetByUsername(ctx context.Context, username string) (*Buyer, error)
	GetByReferralCode(ctx context.Context, code string) (*Buyer, error)
	ReferralCodeExists(ctx context.Context, code string) (bool, error)
	// SetReferralCode stores code for a buyer that has none yet. It returns
	// ErrReferralCodeTaken when another buyer already holds code.
	SetReferralCode(ctx context.Context, id, code string) error
	ListReferralCodes(ctx context.Context) ([]string, error)
	ListWithoutReferralCode(ctx context.Context, limit int) ([]string, error)
	// AdjustCoins applies delta to the balance and returns the new balance.
	// The update is conditional: a result below zero yields ErrInsufficientCoins
	// and leaves the balance untouched.
	AdjustCoins(ctx context.Context, id string, delta int64) (int64, error)
	IncrementReferrals(ctx context.Context, id string) error
	AppendReferralHistory(ctx context.Context, referrerID string, e ReferralEntry) error
	ReferralHistory(ctx context.Context, id string) ([]ReferralEntry, error)
}

// AddressBook stores saved shipping addresses.
type AddressBook interface {
	Save(ctx context.Context, buyerID string, a Address, at time.Time) error
	ListRecent(ctx context.Context, buyerID string, limit int) ([]SavedAddress, error)
}

// Transactor runs fn inside a single database transaction.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// PasswordHasher hashes and verifies buyer passwords.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) error
}
