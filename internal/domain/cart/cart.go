package cart

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Sentinel errors for cart operations.
var (
	ErrEmpty           = errors.New("cart is empty")
	ErrNothingSelected = errors.New("no cart items selected")
	ErrItemNotFound    = errors.New("cart item not found")
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
)

// ColorNotFoundError indicates the requested color is not offered for a product.
type ColorNotFoundError struct {
	ProductID string
	ColorID   string
}

func (e *ColorNotFoundError) Error() string {
	return fmt.Sprintf("color %s is not available for product %s", e.ColorID, e.ProductID)
}

// Color is the snapshot of a product color taken when the line was added.
type Color struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Image string `json:"image,omitempty"`
}

// Key identifies a cart line. An empty ColorID means the colorless variant.
type Key struct {
	ProductID string
	ColorID   string
}

// Item is a single cart line.
type Item struct {
	ProductID  string
	Quantity   int
	Price      decimal.Decimal
	IsSelected bool
	Color      *Color
}

// Key returns the line's identity within the cart.
func (i Item) Key() Key {
	k := Key{ProductID: i.ProductID}
	if i.Color != nil {
		k.ColorID = i.Color.ID
	}
	return k
}

// Subtotal returns price times quantity.
func (i Item) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Cart is a buyer's collection of candidate purchase lines.
type Cart struct {
	BuyerID     string
	Items       []Item
	TotalAmount decimal.Decimal
	UpdatedAt   time.Time
}

// New returns an empty cart for the buyer.
func New(buyerID string) *Cart {
	return &Cart{BuyerID: buyerID, TotalAmount: decimal.Zero}
}

// Recalculate sets TotalAmount to the sum of selected line subtotals.
func (c *Cart) Recalculate() {
	total := decimal.Zero
	for _, it := range c.Items {
		if it.IsSelected {
			total = total.Add(it.Subtotal())
		}
	}
	c.TotalAmount = total
}

// Selected returns the selected lines in cart order.
func (c *Cart) Selected() []Item {
	var out []Item
	for _, it := range c.Items {
		if it.IsSelected {
			out = append(out, it)
		}
	}
	return out
}

// Find returns the index of the line with key k, or -1.
func (c *Cart) Find(k Key) int {
	for i, it := range c.Items {
		if it.Key() == k {
			return i
		}
	}
	return -1
}

// RemoveKeys drops every line whose key is in keys and reports how many were removed.
func (c *Cart) RemoveKeys(keys ...Key) int {
	drop := make(map[Key]struct{}, len(keys))
	for _, k := range keys {
		drop[k] = struct{}{}
	}

	kept := c.Items[:0]
	for _, it := range c.Items {
		if _, ok := drop[it.Key()]; ok {
			continue
		}
		kept = append(kept, it)
	}
	removed := len(c.Items) - len(kept)
	c.Items = kept
	return removed
}

// Repository persists carts.
type Repository interface {
	// Get returns the buyer's cart, or an empty cart if none was saved yet.
	Get(ctx context.Context, buyerID string) (*Cart, error)
	// GetForUpdate is Get under a row lock held until the surrounding
	// transaction ends.
	GetForUpdate(ctx context.Context, buyerID string) (*Cart, error)
	// Update loads the buyer's cart under a row lock, applies fn and saves the
	// result after recalculating the total. Nothing is written if fn fails.
	Update(ctx context.Context, buyerID string, fn func(c *Cart) error) (*Cart, error)
}
