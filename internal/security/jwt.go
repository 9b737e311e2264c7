// Package security provides password hashing and bearer token signing.
package security

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"

	"github.com/xenking/storefront/internal/domain/auth"
)

var _ auth.TokenIssuer = (*JWTIssuer)(nil)

// JWTIssuer signs HS256 tokens carrying the principal's ID and role.
type JWTIssuer struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// NewJWTIssuer creates a JWTIssuer.
func NewJWTIssuer(secret string, ttl time.Duration, issuer string) *JWTIssuer {
	return &JWTIssuer{
		secret: []byte(secret),
		ttl:    ttl,
		issuer: issuer,
		now:    time.Now,
	}
}

type claims struct {
	Role string `json:"role"`
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Issue signs a token for p.
func (j *JWTIssuer) Issue(p auth.Principal) (string, time.Time, error) {
	now := j.now()
	exp := now.Add(j.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Role: string(p.Role),
		Name: p.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			Issuer:    j.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})
	signed, err := token.SignedString(j.secret)
	if err != nil {
		return "", time.Time{}, errors.Wrap(err, "sign token")
	}
	return signed, exp, nil
}

// Parse verifies token and returns its principal. Any verification failure
// yields auth.ErrUnauthenticated.
func (j *JWTIssuer) Parse(token string) (*auth.Principal, error) {
	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(*jwt.Token) (any, error) {
		return j.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(j.issuer),
		jwt.WithTimeFunc(j.now),
	)
	if err != nil {
		return nil, errors.Wrap(auth.ErrUnauthenticated, err.Error())
	}

	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid || c.Subject == "" {
		return nil, auth.ErrUnauthenticated
	}
	role := auth.Role(c.Role)
	if role != auth.RoleBuyer && role != auth.RoleSeller {
		return nil, auth.ErrUnauthenticated
	}
	return &auth.Principal{ID: c.Subject, Role: role, Name: c.Name}, nil
}
