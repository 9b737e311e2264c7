package auth

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront/internal/domain/buyer"
	"github.com/xenking/storefront/internal/domain/seller"
)

// Session is the result of a successful login or registration.
type Session struct {
	Principal Principal
	Token     string
	ExpiresAt time.Time
}

// Service authenticates buyers and sellers and issues bearer tokens.
type Service struct {
	buyers  *buyer.Service
	sellers seller.Repository
	hasher  buyer.PasswordHasher
	tokens  TokenIssuer
}

// NewService creates an auth Service.
func NewService(buyers *buyer.Service, sellers seller.Repository, hasher buyer.PasswordHasher, tokens TokenIssuer) *Service {
	return &Service{buyers: buyers, sellers: sellers, hasher: hasher, tokens: tokens}
}

// RegisterBuyer creates a buyer account and logs it in.
func (s *Service) RegisterBuyer(ctx context.Context, req buyer.RegisterRequest) (*Session, *buyer.Buyer, error) {
	b, err := s.buyers.Register(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	sess, err := s.issue(Principal{ID: b.ID, Role: RoleBuyer, Name: b.Username})
	if err != nil {
		return nil, nil, err
	}
	return sess, b, nil
}

// LoginBuyer authenticates a buyer by username or phone.
func (s *Service) LoginBuyer(ctx context.Context, username, password string) (*Session, error) {
	b, err := s.buyers.Authenticate(ctx, username, password)
	if err != nil {
		return nil, err
	}
	return s.issue(Principal{ID: b.ID, Role: RoleBuyer, Name: b.Username})
}

// LoginSeller authenticates a seller by email.
func (s *Service) LoginSeller(ctx context.Context, email, password string) (*Session, error) {
	sl, err := s.sellers.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, seller.ErrNotFound) {
			return nil, buyer.ErrInvalidCredentials
		}
		return nil, errors.Wrap(err, "get seller")
	}
	if sl.PasswordHash == "" || s.hasher.Compare(sl.PasswordHash, password) != nil {
		return nil, buyer.ErrInvalidCredentials
	}
	return s.issue(Principal{ID: sl.ID, Role: RoleSeller, Name: sl.Name})
}

func (s *Service) issue(p Principal) (*Session, error) {
	token, exp, err := s.tokens.Issue(p)
	if err != nil {
		return nil, errors.Wrap(err, "issue token")
	}
	return &Session{Principal: p, Token: token, ExpiresAt: exp}, nil
}
