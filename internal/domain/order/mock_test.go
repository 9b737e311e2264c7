package order

import (
	"context"
	"maps"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/buyer"
	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/notification"
	"github.com/xenking/storefront/internal/domain/product"
)

var errCancelReasonCheck = errors.New("cancel_reason violates check constraint")

// store is an in-memory backing for every repository the service uses.
// InTx restores the previous state when fn fails.
type store struct {
	products  map[string]product.Product
	buyers    map[string]buyer.Buyer
	history   map[string][]buyer.ReferralEntry
	carts     map[string]cart.Cart
	orders    map[string]Order
	seq       map[string]int
	addresses map[string][]buyer.Address

	createErr   error
	txCount     int
	txDepth     int
	lockedCarts int
}

type snapshot struct {
	products map[string]product.Product
	buyers   map[string]buyer.Buyer
	history  map[string][]buyer.ReferralEntry
	carts    map[string]cart.Cart
	orders   map[string]Order
	seq      map[string]int
}

func newStore() *store {
	return &store{
		products:  make(map[string]product.Product),
		buyers:    make(map[string]buyer.Buyer),
		history:   make(map[string][]buyer.ReferralEntry),
		carts:     make(map[string]cart.Cart),
		orders:    make(map[string]Order),
		seq:       make(map[string]int),
		addresses: make(map[string][]buyer.Address),
	}
}

func (s *store) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	s.txCount++
	s.txDepth++
	defer func() { s.txDepth-- }()
	snap := snapshot{
		products: maps.Clone(s.products),
		buyers:   maps.Clone(s.buyers),
		history:  maps.Clone(s.history),
		carts:    maps.Clone(s.carts),
		orders:   maps.Clone(s.orders),
		seq:      maps.Clone(s.seq),
	}
	if err := fn(ctx); err != nil {
		s.products = snap.products
		s.buyers = snap.buyers
		s.history = snap.history
		s.carts = snap.carts
		s.orders = snap.orders
		s.seq = snap.seq
		return err
	}
	return nil
}

// --- product.Catalog ---

type catalogFake struct{ s *store }

func (c catalogFake) List(_ context.Context) ([]product.Product, error) {
	var out []product.Product
	for _, p := range c.s.products {
		out = append(out, p)
	}
	return out, nil
}

func (c catalogFake) GetByID(_ context.Context, id string) (*product.Product, error) {
	p, ok := c.s.products[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return &p, nil
}

func (c catalogFake) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	var out []product.Product
	for _, id := range ids {
		if p, ok := c.s.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (c catalogFake) DecrementStock(_ context.Context, id string, qty int) error {
	p, ok := c.s.products[id]
	if !ok {
		return product.ErrNotFound
	}
	if p.Stock < qty {
		return &product.InsufficientStockError{ProductID: id, Requested: qty, Available: p.Stock}
	}
	p.Stock -= qty
	c.s.products[id] = p
	return nil
}

func (c catalogFake) IncrementStock(_ context.Context, id string, qty int) error {
	p, ok := c.s.products[id]
	if !ok {
		return product.ErrNotFound
	}
	p.Stock += qty
	c.s.products[id] = p
	return nil
}

func (c catalogFake) IncrementOrderCount(_ context.Context, id string, n int) error {
	p, ok := c.s.products[id]
	if !ok {
		return product.ErrNotFound
	}
	p.OrderCount += n
	c.s.products[id] = p
	return nil
}

// --- buyer.Ledger ---

// ledgerFake implements the subset of buyer.Ledger used by settlement.
type ledgerFake struct {
	buyer.Ledger
	s *store
}

func (l ledgerFake) GetByID(_ context.Context, id string) (*buyer.Buyer, error) {
	b, ok := l.s.buyers[id]
	if !ok {
		return nil, buyer.ErrNotFound
	}
	return &b, nil
}

func (l ledgerFake) AdjustCoins(_ context.Context, id string, delta int64) (int64, error) {
	b, ok := l.s.buyers[id]
	if !ok {
		return 0, buyer.ErrNotFound
	}
	if b.ReferralCoins+delta < 0 {
		return b.ReferralCoins, buyer.ErrInsufficientCoins
	}
	b.ReferralCoins += delta
	l.s.buyers[id] = b
	return b.ReferralCoins, nil
}

func (l ledgerFake) AppendReferralHistory(_ context.Context, referrerID string, e buyer.ReferralEntry) error {
	l.s.history[referrerID] = append(l.s.history[referrerID], e)
	return nil
}

func (l ledgerFake) ReferralHistory(_ context.Context, id string) ([]buyer.ReferralEntry, error) {
	return l.s.history[id], nil
}

// --- cart.Repository ---

type cartsFake struct{ s *store }

func (c cartsFake) Get(_ context.Context, buyerID string) (*cart.Cart, error) {
	stored, ok := c.s.carts[buyerID]
	if !ok {
		return cart.New(buyerID), nil
	}
	stored.Items = append([]cart.Item(nil), stored.Items...)
	return &stored, nil
}

func (c cartsFake) GetForUpdate(ctx context.Context, buyerID string) (*cart.Cart, error) {
	if c.s.txDepth == 0 {
		return nil, errors.New("cart row lock outside a transaction")
	}
	c.s.lockedCarts++
	return c.Get(ctx, buyerID)
}

func (c cartsFake) Update(ctx context.Context, buyerID string, fn func(*cart.Cart) error) (*cart.Cart, error) {
	cur, _ := c.Get(ctx, buyerID)
	if err := fn(cur); err != nil {
		return nil, err
	}
	cur.Recalculate()
	saved := *cur
	saved.Items = append([]cart.Item(nil), cur.Items...)
	c.s.carts[buyerID] = saved
	return cur, nil
}

// --- Repository ---

type ordersFake struct{ s *store }

func (o ordersFake) Create(_ context.Context, ord *Order) error {
	if o.s.createErr != nil {
		return o.s.createErr
	}
	cp := *ord
	cp.Items = append([]Item(nil), ord.Items...)
	o.s.orders[ord.OrderID] = cp
	return nil
}

func (o ordersFake) GetByOrderID(_ context.Context, orderID string) (*Order, error) {
	ord, ok := o.s.orders[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	return &ord, nil
}

func (o ordersFake) ListByBuyer(_ context.Context, buyerID string, _ int) ([]Order, error) {
	var out []Order
	for _, ord := range o.s.orders {
		if ord.BuyerID == buyerID {
			out = append(out, ord)
		}
	}
	return out, nil
}

func (o ordersFake) ListBySeller(_ context.Context, sellerID string, _ int) ([]Order, error) {
	var out []Order
	for _, ord := range o.s.orders {
		if ord.SellerID == sellerID {
			out = append(out, ord)
		}
	}
	return out, nil
}

func (o ordersFake) UpdateStatus(_ context.Context, orderID string, from, to Status, reason CancelReason, at time.Time) error {
	ord, ok := o.s.orders[orderID]
	if !ok {
		return ErrNotFound
	}
	if ord.Status != from {
		return ErrInvalidTransition
	}
	// Mirrors the orders table CHECK on cancel_reason.
	if (to == StatusCancelled) != (reason != "") {
		return errCancelReasonCheck
	}
	ord.Status = to
	ord.UpdatedAt = at
	ord.CancelReason = reason
	o.s.orders[orderID] = ord
	return nil
}

func (o ordersFake) NextSequence(_ context.Context, day time.Time) (int, error) {
	key := day.Format("20060102")
	o.s.seq[key]++
	return o.s.seq[key], nil
}

// --- buyer.AddressBook ---

type addressesFake struct{ s *store }

func (a addressesFake) Save(_ context.Context, buyerID string, addr buyer.Address, _ time.Time) error {
	a.s.addresses[buyerID] = append(a.s.addresses[buyerID], addr)
	return nil
}

func (a addressesFake) ListRecent(_ context.Context, _ string, _ int) ([]buyer.SavedAddress, error) {
	return nil, nil
}

// --- notification.Notifier ---

type recorder struct {
	messages []notification.Message
}

func (r *recorder) Notify(_ context.Context, msg notification.Message) {
	r.messages = append(r.messages, msg)
}

func (r *recorder) to(recipient string, typ notification.Type) []notification.Message {
	var out []notification.Message
	for _, m := range r.messages {
		if m.Type != typ {
			continue
		}
		for _, id := range m.Recipients {
			if id == recipient {
				out = append(out, m)
			}
		}
	}
	return out
}

// --- Helpers ---

var testDay = time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

var testAddress = buyer.Address{
	FullName: "Alice Buyer",
	Phone:    "+100000001",
	Line1:    "1 Main St",
	City:     "Springfield",
	Country:  "US",
}

type env struct {
	store    *store
	notes    *recorder
	svc      *Service
	ledger   ledgerFake
	catalog  catalogFake
	carts    cartsFake
	clockNow time.Time
}

func newEnv(opts ...func(*Deps)) *env {
	s := newStore()
	e := &env{
		store:    s,
		notes:    &recorder{},
		ledger:   ledgerFake{s: s},
		catalog:  catalogFake{s: s},
		carts:    cartsFake{s: s},
		clockNow: testDay,
	}
	d := Deps{
		Orders:    ordersFake{s: s},
		Catalog:   e.catalog,
		Ledger:    e.ledger,
		Carts:     e.carts,
		Addresses: addressesFake{s: s},
		Tx:        s,
		Notifier:  e.notes,
		Clock:     func() time.Time { return e.clockNow },
	}
	for _, opt := range opts {
		opt(&d)
	}
	svc, err := NewService(d)
	if err != nil {
		panic(err)
	}
	e.svc = svc
	return e
}

func (e *env) addProduct(id, seller, price string, stock int) {
	e.store.products[id] = product.Product{
		ID:            id,
		SellerID:      seller,
		Name:          "Product " + id,
		Price:         decimal.RequireFromString(price),
		DeliveryPrice: decimal.RequireFromString("5"),
		Stock:         stock,
		Colors: []product.Color{
			{ID: "red", Name: "Red", Images: []string{id + "-red.jpg"}},
		},
	}
}

func (e *env) addBuyer(id string, coins int64, referredBy string) {
	e.store.buyers[id] = buyer.Buyer{
		ID:            id,
		Username:      id,
		ReferralCoins: coins,
		ReferredBy:    referredBy,
	}
}

func (e *env) addCartLine(buyerID, productID string, qty int, selected bool) {
	c := e.store.carts[buyerID]
	c.BuyerID = buyerID
	c.Items = append(c.Items, cart.Item{
		ProductID:  productID,
		Quantity:   qty,
		Price:      e.store.products[productID].SalePrice(),
		IsSelected: selected,
	})
	c.Recalculate()
	e.store.carts[buyerID] = c
}

func (e *env) stock(id string) int {
	return e.store.products[id].Stock
}

func (e *env) coins(id string) int64 {
	return e.store.buyers[id].ReferralCoins
}
