package cart

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront/internal/domain/product"
)

// AddRequest holds the input for adding a line to the cart.
type AddRequest struct {
	ProductID string
	Quantity  int
	ColorID   string
}

// Service implements cart operations for a buyer.
type Service struct {
	carts    Repository
	products product.Repository
}

// NewService creates a cart Service.
func NewService(carts Repository, products product.Repository) *Service {
	return &Service{carts: carts, products: products}
}

// Get returns the buyer's cart.
func (s *Service) Get(ctx context.Context, buyerID string) (*Cart, error) {
	return s.carts.Get(ctx, buyerID)
}

// Add puts a product into the cart. Adding a (product, color) pair that is
// already present increases that line's quantity. New lines snapshot the
// current sale price and start selected.
func (s *Service) Add(ctx context.Context, buyerID string, req AddRequest) (*Cart, error) {
	if req.Quantity < 1 {
		return nil, ErrInvalidQuantity
	}

	p, err := s.products.GetByID(ctx, req.ProductID)
	if err != nil {
		return nil, errors.Wrap(err, "get product")
	}

	var color *Color
	if req.ColorID != "" {
		c, ok := p.Color(req.ColorID)
		if !ok {
			return nil, &ColorNotFoundError{ProductID: p.ID, ColorID: req.ColorID}
		}
		color = &Color{ID: c.ID, Name: c.Name}
		if len(c.Images) > 0 {
			color.Image = c.Images[0]
		}
	}

	return s.carts.Update(ctx, buyerID, func(c *Cart) error {
		key := Key{ProductID: p.ID, ColorID: req.ColorID}
		if i := c.Find(key); i >= 0 {
			c.Items[i].Quantity += req.Quantity
			return nil
		}
		c.Items = append(c.Items, Item{
			ProductID:  p.ID,
			Quantity:   req.Quantity,
			Price:      p.SalePrice(),
			IsSelected: true,
			Color:      color,
		})
		return nil
	})
}

// UpdateQuantity sets the quantity of an existing line. The quantity must be
// at least 1 and may not exceed the product's current stock.
func (s *Service) UpdateQuantity(ctx context.Context, buyerID string, key Key, qty int) (*Cart, error) {
	if qty < 1 {
		return nil, ErrInvalidQuantity
	}

	p, err := s.products.GetByID(ctx, key.ProductID)
	if err != nil {
		return nil, errors.Wrap(err, "get product")
	}
	if qty > p.Stock {
		return nil, &product.InsufficientStockError{ProductID: p.ID, Requested: qty, Available: p.Stock}
	}

	return s.carts.Update(ctx, buyerID, func(c *Cart) error {
		i := c.Find(key)
		if i < 0 {
			return ErrItemNotFound
		}
		c.Items[i].Quantity = qty
		return nil
	})
}

// Remove deletes the line matching key exactly. A key without a color only
// matches the colorless line of that product.
func (s *Service) Remove(ctx context.Context, buyerID string, key Key) (*Cart, error) {
	return s.carts.Update(ctx, buyerID, func(c *Cart) error {
		if c.RemoveKeys(key) == 0 {
			return ErrItemNotFound
		}
		return nil
	})
}

// SelectOnly deselects every line and selects the one matching key.
func (s *Service) SelectOnly(ctx context.Context, buyerID string, key Key) (*Cart, error) {
	return s.carts.Update(ctx, buyerID, func(c *Cart) error {
		target := c.Find(key)
		if target < 0 {
			return ErrItemNotFound
		}
		for i := range c.Items {
			c.Items[i].IsSelected = i == target
		}
		return nil
	})
}

// SetSelected flips the selection flag of a single line, leaving the others
// untouched. Used to build a multi-line selection for batch checkout.
func (s *Service) SetSelected(ctx context.Context, buyerID string, key Key, selected bool) (*Cart, error) {
	return s.carts.Update(ctx, buyerID, func(c *Cart) error {
		i := c.Find(key)
		if i < 0 {
			return ErrItemNotFound
		}
		c.Items[i].IsSelected = selected
		return nil
	})
}

// ValidateForCheckout checks that the cart has selected lines and that each
// of them is still covered by live stock. It returns the cart and the
// products referenced by the selected lines.
func (s *Service) ValidateForCheckout(ctx context.Context, buyerID string) (*Cart, map[string]product.Product, error) {
	c, err := s.carts.Get(ctx, buyerID)
	if err != nil {
		return nil, nil, errors.Wrap(err, "get cart")
	}
	products, err := CheckStock(ctx, s.products, c)
	if err != nil {
		return nil, nil, err
	}
	return c, products, nil
}

// CheckStock validates the selected lines of c against the catalog.
// Quantities of lines sharing a product are summed before comparing.
func CheckStock(ctx context.Context, products product.Repository, c *Cart) (map[string]product.Product, error) {
	if len(c.Items) == 0 {
		return nil, ErrEmpty
	}
	selected := c.Selected()
	if len(selected) == 0 {
		return nil, ErrNothingSelected
	}

	need := make(map[string]int, len(selected))
	ids := make([]string, 0, len(selected))
	for _, it := range selected {
		if _, ok := need[it.ProductID]; !ok {
			ids = append(ids, it.ProductID)
		}
		need[it.ProductID] += it.Quantity
	}

	fetched, err := products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	byID := make(map[string]product.Product, len(fetched))
	for _, p := range fetched {
		byID[p.ID] = p
	}

	for _, id := range ids {
		p, ok := byID[id]
		if !ok {
			return nil, errors.Wrapf(product.ErrNotFound, "product %s", id)
		}
		if need[id] > p.Stock {
			return nil, &product.InsufficientStockError{ProductID: id, Requested: need[id], Available: p.Stock}
		}
	}
	return byID, nil
}
