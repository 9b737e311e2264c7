package order

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/buyer"
	"github.com/xenking/storefront/internal/domain/cart"
)

// Status is the lifecycle state of an order.
type Status string

// Order statuses.
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

// forward maps each status to the single status a seller may advance it to.
var forward = map[Status]Status{
	StatusPending:    StatusProcessing,
	StatusProcessing: StatusShipped,
	StatusShipped:    StatusDelivered,
}

var statusMessages = map[Status]string{
	StatusPending:    "Your order has been placed",
	StatusProcessing: "Your order is being processed",
	StatusShipped:    "Your order has been shipped",
	StatusDelivered:  "Your order has been delivered",
	StatusCancelled:  "Your order has been cancelled",
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := statusMessages[s]
	return ok
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// CanTransition reports whether an order in status s may move to next.
func (s Status) CanTransition(next Status) bool {
	if next == StatusCancelled {
		return !s.Terminal()
	}
	return forward[s] == next
}

// Message returns the buyer-facing text for an order entering s.
func (s Status) Message() string {
	return statusMessages[s]
}

// CancelReason is one of a fixed set of cancellation reasons.
type CancelReason string

// Cancellation reasons.
const (
	ReasonChangedMind       CancelReason = "changed_mind"
	ReasonFoundCheaper      CancelReason = "found_cheaper"
	ReasonDeliveryTooSlow   CancelReason = "delivery_too_slow"
	ReasonOrderedByMistake  CancelReason = "ordered_by_mistake"
	ReasonOutOfStock        CancelReason = "out_of_stock"
	ReasonSellerUnavailable CancelReason = "seller_unavailable"
	ReasonOther             CancelReason = "other"
)

// Valid reports whether r is a known reason.
func (r CancelReason) Valid() bool {
	switch r {
	case ReasonChangedMind, ReasonFoundCheaper, ReasonDeliveryTooSlow,
		ReasonOrderedByMistake, ReasonOutOfStock, ReasonSellerUnavailable, ReasonOther:
		return true
	}
	return false
}

// Item is an immutable line snapshot taken at order time.
type Item struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Color     *cart.Color     `json:"color,omitempty"`
}

// Subtotal returns price times quantity.
func (i Item) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Order is a placed order with its settlement figures.
type Order struct {
	ID               string
	OrderID          string
	BuyerID          string
	SellerID         string
	Items            []Item
	Status           Status
	TotalAmount      decimal.Decimal
	DeliveryPrice    decimal.Decimal
	ReferralDiscount decimal.Decimal
	CoinsUsed        int64
	CoinValueUsed    decimal.Decimal
	FinalAmount      decimal.Decimal
	ShippingAddress  buyer.Address
	PaymentMethod    string
	CancelReason     CancelReason
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Recalculate derives TotalAmount from the items and FinalAmount from the
// total, delivery price and referral discount. FinalAmount never goes below zero.
func (o *Order) Recalculate() {
	total := decimal.Zero
	for _, it := range o.Items {
		total = total.Add(it.Subtotal())
	}
	o.TotalAmount = total

	final := total.Add(o.DeliveryPrice).Sub(o.ReferralDiscount)
	if final.IsNegative() {
		final = decimal.Zero
	}
	o.FinalAmount = final
}

// FormatOrderID renders the human-readable order identifier for the given
// UTC day and daily sequence, e.g. ORD-20250101-0001.
func FormatOrderID(day time.Time, seq int) string {
	return fmt.Sprintf("ORD-%s-%04d", day.UTC().Format("20060102"), seq)
}

// Repository defines persistence operations for orders.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	GetByOrderID(ctx context.Context, orderID string) (*Order, error)
	ListByBuyer(ctx context.Context, buyerID string, limit int) ([]Order, error)
	ListBySeller(ctx context.Context, sellerID string, limit int) ([]Order, error)
	// UpdateStatus moves the order from status from to status to. It returns
	// ErrInvalidTransition when the stored status is no longer from.
	UpdateStatus(ctx context.Context, orderID string, from, to Status, reason CancelReason, at time.Time) error
	// NextSequence allocates the next order number for the given day.
	NextSequence(ctx context.Context, day time.Time) (int, error)
}

// Transactor runs fn inside a single database transaction.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}
