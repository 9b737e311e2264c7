package auth

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

var (
	// ErrUnauthenticated is returned when credentials are missing or invalid.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden is returned when a principal lacks the required role.
	ErrForbidden = errors.New("forbidden")
)

// Role is the kind of account a principal acts as.
type Role string

// Principal roles.
const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
)

// Principal is an authenticated caller.
type Principal struct {
	ID   string
	Role Role
	Name string
}

// TokenIssuer signs and verifies bearer tokens.
type TokenIssuer interface {
	Issue(p Principal) (token string, expiresAt time.Time, err error)
	Parse(token string) (*Principal, error)
}

type principalKey struct{}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal stored in ctx, if any.
func FromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok && p != nil
}
