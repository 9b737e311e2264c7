package product

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a requested product does not exist.
	ErrNotFound = errors.New("product not found")
	// ErrInvalidDiscount is returned when a discount percentage is outside [0, 100).
	ErrInvalidDiscount = errors.New("discount percentage must be between 0 and 100")
)

var hundred = decimal.NewFromInt(100)

// InsufficientStockError indicates a product cannot cover the requested quantity.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

// Product represents a catalog item offered by a seller.
type Product struct {
	ID              string
	SellerID        string
	Name            string
	Category        string
	Price           decimal.Decimal
	DiscountPercent decimal.Decimal
	DeliveryPrice   decimal.Decimal
	Stock           int
	OrderCount      int
	Colors          []Color
	Image           Image
}

// Color is a purchasable variant of a product.
type Color struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Images []string `json:"images"`
}

// Image holds responsive image URLs for a product.
type Image struct {
	Thumbnail string
	Mobile    string
	Tablet    string
	Desktop   string
}

// SalePrice returns the price after the product's discount percentage,
// rounded to 2 decimal places.
func (p Product) SalePrice() decimal.Decimal {
	if p.DiscountPercent.IsZero() {
		return p.Price.Round(2)
	}
	off := p.Price.Mul(p.DiscountPercent).Div(hundred)
	return p.Price.Sub(off).Round(2)
}

// Color looks up a color variant by ID.
func (p Product) Color(id string) (Color, bool) {
	for _, c := range p.Colors {
		if c.ID == id {
			return c, true
		}
	}
	return Color{}, false
}

// ValidateDiscount checks that pct is a usable discount percentage.
func ValidateDiscount(pct decimal.Decimal) error {
	if pct.IsNegative() || pct.GreaterThanOrEqual(hundred) {
		return ErrInvalidDiscount
	}
	return nil
}

// Repository defines read operations for the product catalog.
type Repository interface {
	List(ctx context.Context) ([]Product, error)
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
}

// Catalog extends Repository with the stock and counter mutations used by
// order settlement. DecrementStock must be conditional: it returns an
// *InsufficientStockError instead of letting stock go below zero.
type Catalog interface {
	Repository
	DecrementStock(ctx context.Context, id string, qty int) error
	IncrementStock(ctx context.Context, id string, qty int) error
	IncrementOrderCount(ctx context.Context, id string, n int) error
}
