package cart

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/product"
)

// --- Mock implementations ---

type memCarts struct {
	byBuyer map[string]*Cart
	saves   int
}

func newMemCarts() *memCarts {
	return &memCarts{byBuyer: make(map[string]*Cart)}
}

func clone(c *Cart) *Cart {
	cp := *c
	cp.Items = append([]Item(nil), c.Items...)
	return &cp
}

func (m *memCarts) Get(_ context.Context, buyerID string) (*Cart, error) {
	c, ok := m.byBuyer[buyerID]
	if !ok {
		return New(buyerID), nil
	}
	return clone(c), nil
}

func (m *memCarts) GetForUpdate(ctx context.Context, buyerID string) (*Cart, error) {
	return m.Get(ctx, buyerID)
}

func (m *memCarts) Update(ctx context.Context, buyerID string, fn func(c *Cart) error) (*Cart, error) {
	c, _ := m.Get(ctx, buyerID)
	if err := fn(c); err != nil {
		return nil, err
	}
	c.Recalculate()
	m.byBuyer[buyerID] = clone(c)
	m.saves++
	return c, nil
}

type mockProducts struct {
	byID map[string]product.Product
	err  error
}

func (m *mockProducts) List(_ context.Context) ([]product.Product, error) {
	return nil, nil
}

func (m *mockProducts) GetByID(_ context.Context, id string) (*product.Product, error) {
	if m.err != nil {
		return nil, m.err
	}
	p, ok := m.byID[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return &p, nil
}

func (m *mockProducts) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []product.Product
	for _, id := range ids {
		if p, ok := m.byID[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// --- Helpers ---

func newProducts(ps ...product.Product) *mockProducts {
	m := &mockProducts{byID: make(map[string]product.Product)}
	for _, p := range ps {
		m.byID[p.ID] = p
	}
	return m
}

func shirt() product.Product {
	return product.Product{
		ID:              "p1",
		SellerID:        "s1",
		Name:            "Shirt",
		Price:           decimal.RequireFromString("20.00"),
		DiscountPercent: decimal.NewFromInt(10),
		Stock:           10,
		Colors: []product.Color{
			{ID: "red", Name: "Red", Images: []string{"red-1.jpg", "red-2.jpg"}},
			{ID: "blue", Name: "Blue"},
		},
	}
}

func mug() product.Product {
	return product.Product{
		ID:    "p2",
		Name:  "Mug",
		Price: decimal.RequireFromString("5.50"),
		Stock: 3,
	}
}

func setup(ps ...product.Product) (*Service, *memCarts) {
	carts := newMemCarts()
	return NewService(carts, newProducts(ps...)), carts
}

func assertTotalInvariant(t *testing.T, c *Cart) {
	t.Helper()
	want := decimal.Zero
	for _, it := range c.Items {
		if it.IsSelected {
			want = want.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
		}
	}
	assert.True(t, want.Equal(c.TotalAmount), "total %s, want %s", c.TotalAmount, want)
}

// --- Tests ---

func TestAdd_SnapshotsSalePriceAndColor(t *testing.T) {
	svc, _ := setup(shirt())

	c, err := svc.Add(context.Background(), "b1", AddRequest{ProductID: "p1", Quantity: 1, ColorID: "red"})
	require.NoError(t, err)
	require.Len(t, c.Items, 1)

	it := c.Items[0]
	assert.True(t, decimal.RequireFromString("18.00").Equal(it.Price))
	assert.True(t, it.IsSelected)
	require.NotNil(t, it.Color)
	assert.Equal(t, Color{ID: "red", Name: "Red", Image: "red-1.jpg"}, *it.Color)
	assertTotalInvariant(t, c)
}

func TestAdd_SamePairMergesQuantity(t *testing.T) {
	svc, _ := setup(shirt())
	ctx := context.Background()

	_, err := svc.Add(ctx, "b1", AddRequest{ProductID: "p1", Quantity: 2, ColorID: "red"})
	require.NoError(t, err)
	c, err := svc.Add(ctx, "b1", AddRequest{ProductID: "p1", Quantity: 2, ColorID: "red"})
	require.NoError(t, err)

	require.Len(t, c.Items, 1)
	assert.Equal(t, 4, c.Items[0].Quantity)
	assert.True(t, decimal.RequireFromString("72.00").Equal(c.TotalAmount))
}

func TestAdd_DifferentColorsAreSeparateLines(t *testing.T) {
	svc, _ := setup(shirt())
	ctx := context.Background()

	_, err := svc.Add(ctx, "b1", AddRequest{ProductID: "p1", Quantity: 1, ColorID: "red"})
	require.NoError(t, err)
	_, err = svc.Add(ctx, "b1", AddRequest{ProductID: "p1", Quantity: 1, ColorID: "blue"})
	require.NoError(t, err)
	c, err := svc.Add(ctx, "b1", AddRequest{ProductID: "p1", Quantity: 1})
	require.NoError(t, err)

	require.Len(t, c.Items, 3)
	assert.Nil(t, c.Items[2].Color)
	assert.Empty(t, c.Items[1].Color.Image)
	assertTotalInvariant(t, c)
}

func TestAdd_Errors(t *testing.T) {
	tests := []struct {
		name    string
		req     AddRequest
		wantErr error
	}{
		{name: "zero quantity", req: AddRequest{ProductID: "p1", Quantity: 0}, wantErr: ErrInvalidQuantity},
		{name: "unknown product", req: AddRequest{ProductID: "nope", Quantity: 1}, wantErr: product.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, carts := setup(shirt())
			_, err := svc.Add(context.Background(), "b1", tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Zero(t, carts.saves)
		})
	}

	t.Run("unknown color", func(t *testing.T) {
		svc, carts := setup(shirt())
		_, err := svc.Add(context.Background(), "b1", AddRequest{ProductID: "p1", Quantity: 1, ColorID: "green"})
		var colorErr *ColorNotFoundError
		require.True(t, errors.As(err, &colorErr))
		assert.Equal(t, "green", colorErr.ColorID)
		assert.Zero(t, carts.saves)
	})
}

func TestUpdateQuantity(t *testing.T) {
	svc, _ := setup(shirt(), mug())
	ctx := context.Background()
	_, err := svc.Add(ctx, "b1", AddRequest{ProductID: "p2", Quantity: 1})
	require.NoError(t, err)

	c, err := svc.UpdateQuantity(ctx, "b1", Key{ProductID: "p2"}, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, c.Items[0].Quantity)
	assertTotalInvariant(t, c)

	_, err = svc.UpdateQuantity(ctx, "b1", Key{ProductID: "p2"}, 4)
	var stockErr *product.InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, 3, stockErr.Available)

	_, err = svc.UpdateQuantity(ctx, "b1", Key{ProductID: "p2"}, 0)
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.UpdateQuantity(ctx, "b1", Key{ProductID: "p1", ColorID: "red"}, 1)
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestRemove_ExactKey(t *testing.T) {
	svc, _ := setup(shirt())
	ctx := context.Background()
	for _, color := range []string{"red", ""} {
		_, err := svc.Add(ctx, "b1", AddRequest{ProductID: "p1", Quantity: 1, ColorID: color})
		require.NoError(t, err)
	}

	c, err := svc.Remove(ctx, "b1", Key{ProductID: "p1"})
	require.NoError(t, err)
	require.Len(t, c.Items, 1)
	assert.Equal(t, "red", c.Items[0].Color.ID)
	assertTotalInvariant(t, c)

	_, err = svc.Remove(ctx, "b1", Key{ProductID: "p1"})
	assert.ErrorIs(t, err, ErrItemNotFound)

	c, err = svc.Remove(ctx, "b1", Key{ProductID: "p1", ColorID: "red"})
	require.NoError(t, err)
	assert.Empty(t, c.Items)
	assert.True(t, c.TotalAmount.IsZero())
}

func TestSelectOnly(t *testing.T) {
	svc, _ := setup(shirt(), mug())
	ctx := context.Background()
	_, err := svc.Add(ctx, "b1", AddRequest{ProductID: "p1", Quantity: 1, ColorID: "red"})
	require.NoError(t, err)
	_, err = svc.Add(ctx, "b1", AddRequest{ProductID: "p2", Quantity: 2})
	require.NoError(t, err)

	c, err := svc.SelectOnly(ctx, "b1", Key{ProductID: "p2"})
	require.NoError(t, err)
	require.Len(t, c.Selected(), 1)
	assert.Equal(t, "p2", c.Selected()[0].ProductID)
	assert.True(t, decimal.RequireFromString("11.00").Equal(c.TotalAmount))

	before, err := svc.Get(ctx, "b1")
	require.NoError(t, err)
	_, err = svc.SelectOnly(ctx, "b1", Key{ProductID: "p1", ColorID: "blue"})
	assert.ErrorIs(t, err, ErrItemNotFound)
	after, err := svc.Get(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, before.Selected(), after.Selected())
}

func TestSetSelected_MultiSelect(t *testing.T) {
	svc, _ := setup(shirt(), mug())
	ctx := context.Background()
	_, err := svc.Add(ctx, "b1", AddRequest{ProductID: "p1", Quantity: 1})
	require.NoError(t, err)
	_, err = svc.Add(ctx, "b1", AddRequest{ProductID: "p2", Quantity: 1})
	require.NoError(t, err)

	c, err := svc.SetSelected(ctx, "b1", Key{ProductID: "p1"}, false)
	require.NoError(t, err)
	assert.Len(t, c.Selected(), 1)
	assertTotalInvariant(t, c)

	c, err = svc.SetSelected(ctx, "b1", Key{ProductID: "p1"}, true)
	require.NoError(t, err)
	assert.Len(t, c.Selected(), 2)
	assertTotalInvariant(t, c)
}

func TestValidateForCheckout(t *testing.T) {
	ctx := context.Background()

	t.Run("empty cart", func(t *testing.T) {
		svc, _ := setup(shirt())
		_, _, err := svc.ValidateForCheckout(ctx, "b1")
		assert.ErrorIs(t, err, ErrEmpty)
	})

	t.Run("nothing selected", func(t *testing.T) {
		svc, _ := setup(shirt())
		_, err := svc.Add(ctx, "b1", AddRequest{ProductID: "p1", Quantity: 1})
		require.NoError(t, err)
		_, err = svc.SetSelected(ctx, "b1", Key{ProductID: "p1"}, false)
		require.NoError(t, err)

		_, _, err = svc.ValidateForCheckout(ctx, "b1")
		assert.ErrorIs(t, err, ErrNothingSelected)
	})

	t.Run("live stock re-checked", func(t *testing.T) {
		carts := newMemCarts()
		products := newProducts(mug())
		svc := NewService(carts, products)
		_, err := svc.Add(ctx, "b1", AddRequest{ProductID: "p2", Quantity: 3})
		require.NoError(t, err)

		m := products.byID["p2"]
		m.Stock = 2
		products.byID["p2"] = m

		_, _, err = svc.ValidateForCheckout(ctx, "b1")
		var stockErr *product.InsufficientStockError
		require.True(t, errors.As(err, &stockErr))
		assert.Equal(t, 3, stockErr.Requested)
	})

	t.Run("colors of one product share stock", func(t *testing.T) {
		p := shirt()
		p.Stock = 3
		svc, _ := setup(p)
		_, err := svc.Add(ctx, "b1", AddRequest{ProductID: "p1", Quantity: 2, ColorID: "red"})
		require.NoError(t, err)
		_, err = svc.Add(ctx, "b1", AddRequest{ProductID: "p1", Quantity: 2, ColorID: "blue"})
		require.NoError(t, err)

		_, _, err = svc.ValidateForCheckout(ctx, "b1")
		var stockErr *product.InsufficientStockError
		assert.True(t, errors.As(err, &stockErr))
	})

	t.Run("product removed from catalog", func(t *testing.T) {
		carts := newMemCarts()
		products := newProducts(mug())
		svc := NewService(carts, products)
		_, err := svc.Add(ctx, "b1", AddRequest{ProductID: "p2", Quantity: 1})
		require.NoError(t, err)
		delete(products.byID, "p2")

		_, _, err = svc.ValidateForCheckout(ctx, "b1")
		assert.ErrorIs(t, err, product.ErrNotFound)
	})

	t.Run("ok", func(t *testing.T) {
		svc, _ := setup(shirt(), mug())
		_, err := svc.Add(ctx, "b1", AddRequest{ProductID: "p1", Quantity: 2})
		require.NoError(t, err)
		_, err = svc.Add(ctx, "b1", AddRequest{ProductID: "p2", Quantity: 1})
		require.NoError(t, err)

		c, products, err := svc.ValidateForCheckout(ctx, "b1")
		require.NoError(t, err)
		assert.Len(t, c.Selected(), 2)
		assert.Len(t, products, 2)
	})
}

func TestCart_RemoveKeys(t *testing.T) {
	c := New("b1")
	c.Items = []Item{
		{ProductID: "a"},
		{ProductID: "a", Color: &Color{ID: "red"}},
		{ProductID: "b"},
	}

	n := c.RemoveKeys(Key{ProductID: "a", ColorID: "red"}, Key{ProductID: "b"}, Key{ProductID: "zzz"})
	assert.Equal(t, 2, n)
	require.Len(t, c.Items, 1)
	assert.Equal(t, Key{ProductID: "a"}, c.Items[0].Key())
}
