package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"slices"

	"github.com/go-faster/errors"
)

// ScopeOrders allows an API key to read and advance its seller's orders.
const ScopeOrders = "orders"

// ErrKeyNotFound is returned when no active API key matches a hash.
var ErrKeyNotFound = errors.New("api key not found")

// APIKeyInfo holds the identity and permission data for a validated API key.
type APIKeyInfo struct {
	ID       string
	KeyHash  string
	Name     string
	SellerID string
	Scopes   []string
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}

// HashAPIKey returns the hex HMAC-SHA256 of key under pepper, the form in
// which keys are stored.
func HashAPIKey(pepper []byte, key string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

// APIKeyAuthenticator resolves raw API keys to seller principals.
type APIKeyAuthenticator struct {
	keys   Repository
	pepper []byte
}

// NewAPIKeyAuthenticator creates an authenticator using the given HMAC pepper.
func NewAPIKeyAuthenticator(keys Repository, pepper []byte) *APIKeyAuthenticator {
	return &APIKeyAuthenticator{keys: keys, pepper: pepper}
}

// Authenticate hashes key, looks it up and compares the stored hash in
// constant time. Keys without the orders scope are rejected.
func (a *APIKeyAuthenticator) Authenticate(ctx context.Context, key string) (*Principal, error) {
	if key == "" {
		return nil, ErrUnauthenticated
	}
	hexHash := HashAPIKey(a.pepper, key)

	info, err := a.keys.FindByHash(ctx, hexHash)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, errors.Wrap(err, "find api key")
	}

	computed, _ := hex.DecodeString(hexHash)
	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil || subtle.ConstantTimeCompare(computed, stored) != 1 {
		return nil, ErrUnauthenticated
	}
	if !slices.Contains(info.Scopes, ScopeOrders) {
		return nil, ErrForbidden
	}

	return &Principal{ID: info.SellerID, Role: RoleSeller, Name: info.Name}, nil
}
