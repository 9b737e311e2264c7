// Package handler exposes the storefront over HTTP.
package handler

import (
	"encoding/json"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-playground/validator/v10"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/buyer"
	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/notification"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/notify"
)

const maxBodyBytes = 1 << 20

// Dependencies are the services the API delegates to. Hub is optional; the
// realtime endpoint answers 404 without it.
type Dependencies struct {
	Auth     *auth.Service
	Tokens   auth.TokenIssuer
	APIKeys  *auth.APIKeyAuthenticator
	Buyers   *buyer.Service
	Products product.Repository
	Carts    *cart.Service
	Orders   *order.Service
	Inbox    *notification.Inbox
	Hub      *notify.Hub

	// ImageBaseURL is prepended to product image paths.
	ImageBaseURL string
}

// API serves the storefront routes.
type API struct {
	auth      *auth.Service
	tokens    auth.TokenIssuer
	apiKeys   *auth.APIKeyAuthenticator
	buyers    *buyer.Service
	products  product.Repository
	carts     *cart.Service
	orders    *order.Service
	inbox     *notification.Inbox
	hub       *notify.Hub
	imageBase string
	validator *validator.Validate
}

// NewAPI creates an API.
func NewAPI(deps Dependencies) *API {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	return &API{
		auth:      deps.Auth,
		tokens:    deps.Tokens,
		apiKeys:   deps.APIKeys,
		buyers:    deps.Buyers,
		products:  deps.Products,
		carts:     deps.Carts,
		orders:    deps.Orders,
		inbox:     deps.Inbox,
		hub:       deps.Hub,
		imageBase: deps.ImageBaseURL,
		validator: validate,
	}
}

// Router returns the routes under /api.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", a.handleRegister)
		r.Post("/auth/login", a.handleLogin)
		r.Get("/products", a.handleListProducts)
		r.Get("/products/{id}", a.handleGetProduct)

		r.Group(func(br chi.Router) {
			br.Use(a.authenticate)
			br.Use(requireRole(auth.RoleBuyer))

			br.Get("/cart", a.handleGetCart)
			br.Post("/cart/items", a.handleAddCartItem)
			br.Patch("/cart/items", a.handleUpdateCartItem)
			br.Delete("/cart/items", a.handleRemoveCartItem)
			br.Post("/cart/items/select", a.handleSelectOnly)
			br.Post("/cart/items/selection", a.handleSetSelected)
			br.Post("/cart/validate", a.handleValidateCart)

			br.Post("/orders", a.handleCreateOrder)
			br.Post("/orders/direct", a.handleCreateDirectOrder)
			br.Get("/orders", a.handleListBuyerOrders)
			br.Get("/orders/{orderId}", a.handleGetOrder)
			br.Post("/orders/{orderId}/cancel", a.handleCancelOrder)

			br.Get("/me/referral", a.handleReferralSummary)
			br.Get("/me/addresses", a.handleListAddresses)
		})

		r.Group(func(sr chi.Router) {
			sr.Use(a.authenticate)
			sr.Use(requireRole(auth.RoleSeller))

			sr.Get("/seller/orders", a.handleListSellerOrders)
			sr.Get("/seller/orders/{orderId}", a.handleGetOrder)
			sr.Patch("/seller/orders/{orderId}/status", a.handleUpdateOrderStatus)
			sr.Post("/seller/orders/{orderId}/cancel", a.handleCancelOrder)
		})

		r.Group(func(pr chi.Router) {
			pr.Use(a.authenticate)

			pr.Get("/notifications", a.handleListNotifications)
			pr.Post("/notifications/{id}/read", a.handleMarkNotificationRead)
			pr.Post("/push/subscriptions", a.handleSubscribePush)
		})

		r.With(tokenFromQuery, a.authenticate).Get("/ws", a.handleRealtime)
	})

	return r
}

// decodeAndValidate reads a JSON body into dst and runs struct validation.
func (a *API) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) error {
	defer func() { _ = r.Body.Close() }()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &requestError{err: errors.Wrap(err, "decode body")}
	}
	if err := a.validator.Struct(dst); err != nil {
		return &requestError{err: err}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func respondError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Code: status, Message: message})
}
