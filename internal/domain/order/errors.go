package order

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Sentinel errors for order validation and lifecycle.
var (
	ErrNotFound            = errors.New("order not found")
	ErrEmptyItems          = errors.New("items required")
	ErrInvalidQuantity     = errors.New("quantity must be greater than 0")
	ErrAddressRequired     = errors.New("shipping address required")
	ErrMixedSellers        = errors.New("selected items belong to different sellers")
	ErrNothingToRedeem     = errors.New("referral coins do not cover any discount for this order")
	ErrInvalidTransition   = errors.New("invalid order status transition")
	ErrInvalidStatus       = errors.New("unknown order status")
	ErrInvalidCancelReason = errors.New("unknown cancellation reason")
	ErrForbidden           = errors.New("not allowed to act on this order")
)

// ProductNotFoundError indicates a requested product does not exist.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

// TransitionError describes a rejected status change.
type TransitionError struct {
	OrderID string
	From    Status
	To      Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("order %s cannot move from %s to %s", e.OrderID, e.From, e.To)
}

// Unwrap lets errors.Is match ErrInvalidTransition.
func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}
