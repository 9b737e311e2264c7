package buyer

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"
	"strings"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
)

const (
	// CodeLength is the length of an issued referral code.
	CodeLength = 8

	bloomFPR           = 0.001
	defaultMaxAttempts = 64
)

// ErrCodeSpaceExhausted is returned when no free code was found within the
// attempt budget.
var ErrCodeSpaceExhausted = errors.New("could not find a free referral code")

// CodeIssuer produces referral codes that do not collide with existing ones.
//
// A bloom filter of known codes rejects candidates that are probably taken
// without a database round trip. A negative from the filter is still
// confirmed against the ledger, which stays the source of truth.
type CodeIssuer struct {
	ledger      Ledger
	random      io.Reader
	maxAttempts int

	mu    sync.Mutex
	known *bloom.BloomFilter
}

// NewCodeIssuer creates an issuer sized for roughly expected codes.
func NewCodeIssuer(ledger Ledger, expected uint) *CodeIssuer {
	if expected == 0 {
		expected = 1024
	}
	return &CodeIssuer{
		ledger:      ledger,
		random:      rand.Reader,
		maxAttempts: defaultMaxAttempts,
		known:       bloom.NewWithEstimates(expected, bloomFPR),
	}
}

// Warm loads every existing code into the filter.
func (i *CodeIssuer) Warm(ctx context.Context) (int, error) {
	codes, err := i.ledger.ListReferralCodes(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "list referral codes")
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	for _, c := range codes {
		i.known.AddString(c)
	}
	return len(codes), nil
}

// Issue returns a code that no buyer held at the time of the check.
func (i *CodeIssuer) Issue(ctx context.Context) (string, error) {
	for range i.maxAttempts {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		code, err := generateCode(i.random)
		if err != nil {
			return "", errors.Wrap(err, "generate code")
		}
		if i.probablyTaken(code) {
			continue
		}

		exists, err := i.ledger.ReferralCodeExists(ctx, code)
		if err != nil {
			return "", errors.Wrap(err, "check referral code")
		}
		if exists {
			i.remember(code)
			continue
		}
		return code, nil
	}
	return "", ErrCodeSpaceExhausted
}

// Assign issues a code and stores it on the buyer, retrying when a
// concurrent writer claims the same code first.
func (i *CodeIssuer) Assign(ctx context.Context, buyerID string) (string, error) {
	for range i.maxAttempts {
		code, err := i.Issue(ctx)
		if err != nil {
			return "", err
		}

		err = i.ledger.SetReferralCode(ctx, buyerID, code)
		i.remember(code)
		if errors.Is(err, ErrReferralCodeTaken) {
			continue
		}
		if err != nil {
			return "", errors.Wrap(err, "set referral code")
		}
		return code, nil
	}
	return "", ErrCodeSpaceExhausted
}

func (i *CodeIssuer) probablyTaken(code string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.known.TestString(code)
}

func (i *CodeIssuer) remember(code string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.known.AddString(code)
}

// generateCode returns CodeLength uppercase hex characters.
func generateCode(r io.Reader) (string, error) {
	buf := make([]byte, CodeLength/2)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(buf)), nil
}

// NormalizeCode canonicalizes user-supplied referral codes.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
