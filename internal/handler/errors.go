package handler

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/buyer"
	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/notification"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
)

// requestError marks a malformed or invalid request body.
type requestError struct {
	err error
}

func (e *requestError) Error() string { return e.err.Error() }
func (e *requestError) Unwrap() error { return e.err }

// handleError translates err into a JSON error response. Unknown errors are
// logged and answered with a generic 500.
func handleError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := classify(err)
	if status == http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
		msg = "internal server error"
	}
	respondError(w, status, msg)
}

func classify(err error) (int, string) {
	var (
		reqErr        *requestError
		stockErr      *product.InsufficientStockError
		colorErr      *cart.ColorNotFoundError
		missingErr    *order.ProductNotFoundError
		transitionErr *order.TransitionError
	)

	switch {
	case errors.As(err, &reqErr):
		return http.StatusBadRequest, validationMessage(reqErr.err)

	case errors.Is(err, auth.ErrUnauthenticated),
		errors.Is(err, buyer.ErrInvalidCredentials):
		return http.StatusUnauthorized, rootMessage(err)
	case errors.Is(err, auth.ErrForbidden),
		errors.Is(err, order.ErrForbidden):
		return http.StatusForbidden, rootMessage(err)

	case errors.As(err, &missingErr):
		return http.StatusNotFound, missingErr.Error()
	case errors.Is(err, product.ErrNotFound),
		errors.Is(err, order.ErrNotFound),
		errors.Is(err, buyer.ErrNotFound),
		errors.Is(err, cart.ErrItemNotFound),
		errors.Is(err, notification.ErrNotFound):
		return http.StatusNotFound, rootMessage(err)

	case errors.As(err, &transitionErr):
		return http.StatusConflict, transitionErr.Error()
	case errors.Is(err, buyer.ErrAlreadyExists),
		errors.Is(err, buyer.ErrReferralCodeTaken):
		return http.StatusConflict, rootMessage(err)

	case errors.Is(err, order.ErrEmptyItems),
		errors.Is(err, order.ErrInvalidQuantity),
		errors.Is(err, order.ErrAddressRequired),
		errors.Is(err, order.ErrInvalidStatus),
		errors.Is(err, order.ErrInvalidCancelReason),
		errors.Is(err, cart.ErrInvalidQuantity),
		errors.Is(err, product.ErrInvalidDiscount),
		errors.Is(err, notification.ErrInvalidSubscription):
		return http.StatusBadRequest, rootMessage(err)

	case errors.As(err, &stockErr):
		return http.StatusUnprocessableEntity, stockErr.Error()
	case errors.As(err, &colorErr):
		return http.StatusUnprocessableEntity, colorErr.Error()
	case errors.Is(err, cart.ErrEmpty),
		errors.Is(err, cart.ErrNothingSelected),
		errors.Is(err, order.ErrMixedSellers),
		errors.Is(err, order.ErrNothingToRedeem),
		errors.Is(err, buyer.ErrInsufficientCoins):
		return http.StatusUnprocessableEntity, rootMessage(err)
	}
	return http.StatusInternalServerError, ""
}

// rootMessage returns the message of the sentinel at the bottom of the
// wrap chain, hiding internal context such as "get product: ".
func rootMessage(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid request body"
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		// Drop the request struct name.
		field := fe.Namespace()
		if _, rest, ok := strings.Cut(field, "."); ok {
			field = rest
		}
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s: failed %s=%s", field, fe.Tag(), fe.Param()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: failed %s", field, fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
