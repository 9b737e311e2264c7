package handler

import (
	"net/http"
	"time"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/buyer"
)

type registerRequest struct {
	Username     string `json:"username" validate:"required,min=3,max=64"`
	Phone        string `json:"phone" validate:"omitempty,min=5,max=32"`
	Password     string `json:"password" validate:"required,min=8,max=72"`
	ReferralCode string `json:"referralCode" validate:"omitempty,max=32"`
}

type loginRequest struct {
	// Username is a buyer's username or phone, or a seller's email.
	Username string `json:"username" validate:"required,max=128"`
	Password string `json:"password" validate:"required,max=72"`
	Role     string `json:"role" validate:"omitempty,oneof=buyer seller"`
}

type sessionResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	ID        string    `json:"id"`
	Role      auth.Role `json:"role"`
	Name      string    `json:"name"`
}

type buyerResponse struct {
	ID             string    `json:"id"`
	Username       string    `json:"username"`
	Phone          string    `json:"phone,omitempty"`
	ReferralCode   string    `json:"referralCode,omitempty"`
	ReferredBy     string    `json:"referredBy,omitempty"`
	ReferralCoins  int64     `json:"referralCoins"`
	TotalReferrals int       `json:"totalReferrals"`
	CreatedAt      time.Time `json:"createdAt"`
}

type registerResponse struct {
	Session sessionResponse `json:"session"`
	Buyer   buyerResponse   `json:"buyer"`
}

func toSessionResponse(s *auth.Session) sessionResponse {
	return sessionResponse{
		Token:     s.Token,
		ExpiresAt: s.ExpiresAt,
		ID:        s.Principal.ID,
		Role:      s.Principal.Role,
		Name:      s.Principal.Name,
	}
}

func toBuyerResponse(b *buyer.Buyer) buyerResponse {
	return buyerResponse{
		ID:             b.ID,
		Username:       b.Username,
		Phone:          b.Phone,
		ReferralCode:   b.ReferralCode,
		ReferredBy:     b.ReferredBy,
		ReferralCoins:  b.ReferralCoins,
		TotalReferrals: b.TotalReferrals,
		CreatedAt:      b.CreatedAt,
	}
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := a.decodeAndValidate(w, r, &req); err != nil {
		handleError(w, r, err)
		return
	}

	sess, b, err := a.auth.RegisterBuyer(r.Context(), buyer.RegisterRequest{
		Username:     req.Username,
		Phone:        req.Phone,
		Password:     req.Password,
		ReferralCode: req.ReferralCode,
	})
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, registerResponse{
		Session: toSessionResponse(sess),
		Buyer:   toBuyerResponse(b),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := a.decodeAndValidate(w, r, &req); err != nil {
		handleError(w, r, err)
		return
	}

	var (
		sess *auth.Session
		err  error
	)
	if auth.Role(req.Role) == auth.RoleSeller {
		sess, err = a.auth.LoginSeller(r.Context(), req.Username, req.Password)
	} else {
		sess, err = a.auth.LoginBuyer(r.Context(), req.Username, req.Password)
	}
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(sess))
}
