package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/buyer"
	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/notification"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/domain/seller"
	"github.com/xenking/storefront/internal/security"
)

// --- In-memory store backing every repository ---

type memStore struct {
	mu sync.Mutex

	buyers    map[string]*buyer.Buyer
	history   map[string][]buyer.ReferralEntry
	addresses map[string][]buyer.SavedAddress
	sellers   map[string]*seller.Seller
	products  map[string]*product.Product
	carts     map[string]*cart.Cart
	orders    map[string]*order.Order
	sequences map[string]int
	inbox     []notification.Notification
	subs      []notification.Subscription
	apiKeys   map[string]*auth.APIKeyInfo
}

func newMemStore() *memStore {
	return &memStore{
		buyers:    map[string]*buyer.Buyer{},
		history:   map[string][]buyer.ReferralEntry{},
		addresses: map[string][]buyer.SavedAddress{},
		sellers:   map[string]*seller.Seller{},
		products:  map[string]*product.Product{},
		carts:     map[string]*cart.Cart{},
		orders:    map[string]*order.Order{},
		sequences: map[string]int{},
		apiKeys:   map[string]*auth.APIKeyInfo{},
	}
}

func (m *memStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type memLedger struct{ *memStore }

func (m memLedger) Create(_ context.Context, b *buyer.Buyer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.buyers {
		if other.Username == b.Username || (b.Phone != "" && other.Phone == b.Phone) {
			return buyer.ErrAlreadyExists
		}
	}
	cp := *b
	m.buyers[b.ID] = &cp
	return nil
}

func (m memLedger) find(match func(*buyer.Buyer) bool) (*buyer.Buyer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.buyers {
		if match(b) {
			cp := *b
			return &cp, nil
		}
	}
	return nil, buyer.ErrNotFound
}

func (m memLedger) GetByID(_ context.Context, id string) (*buyer.Buyer, error) {
	return m.find(func(b *buyer.Buyer) bool { return b.ID == id })
}

func (m memLedger) GetByUsername(_ context.Context, username string) (*buyer.Buyer, error) {
	return m.find(func(b *buyer.Buyer) bool { return b.Username == username || b.Phone == username })
}

func (m memLedger) GetByReferralCode(_ context.Context, code string) (*buyer.Buyer, error) {
	return m.find(func(b *buyer.Buyer) bool { return b.ReferralCode != "" && b.ReferralCode == code })
}

func (m memLedger) ReferralCodeExists(ctx context.Context, code string) (bool, error) {
	_, err := m.GetByReferralCode(ctx, code)
	return err == nil, nil
}

func (m memLedger) SetReferralCode(_ context.Context, id, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buyers[id]
	if !ok {
		return buyer.ErrNotFound
	}
	if b.ReferralCode == "" {
		b.ReferralCode = code
	}
	return nil
}

func (m memLedger) ListReferralCodes(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, b := range m.buyers {
		if b.ReferralCode != "" {
			out = append(out, b.ReferralCode)
		}
	}
	return out, nil
}

func (m memLedger) ListWithoutReferralCode(context.Context, int) ([]string, error) {
	return nil, nil
}

func (m memLedger) AdjustCoins(_ context.Context, id string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buyers[id]
	if !ok {
		return 0, buyer.ErrNotFound
	}
	if b.ReferralCoins+delta < 0 {
		return 0, buyer.ErrInsufficientCoins
	}
	b.ReferralCoins += delta
	return b.ReferralCoins, nil
}

func (m memLedger) IncrementReferrals(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buyers[id]
	if !ok {
		return buyer.ErrNotFound
	}
	b.TotalReferrals++
	return nil
}

func (m memLedger) AppendReferralHistory(_ context.Context, referrerID string, e buyer.ReferralEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[referrerID] = append([]buyer.ReferralEntry{e}, m.history[referrerID]...)
	return nil
}

func (m memLedger) ReferralHistory(_ context.Context, id string) ([]buyer.ReferralEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.history[id]), nil
}

type memAddresses struct{ *memStore }

func (m memAddresses) Save(_ context.Context, buyerID string, a buyer.Address, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := slices.DeleteFunc(m.addresses[buyerID], func(s buyer.SavedAddress) bool {
		return s.Address.Fingerprint() == a.Fingerprint()
	})
	m.addresses[buyerID] = append([]buyer.SavedAddress{{ID: a.Fingerprint()[:8], Address: a, LastUsedAt: at}}, list...)
	return nil
}

func (m memAddresses) ListRecent(_ context.Context, buyerID string, limit int) ([]buyer.SavedAddress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.addresses[buyerID]
	return slices.Clone(list[:min(limit, len(list))]), nil
}

type memSellers struct{ *memStore }

func (m memSellers) Create(_ context.Context, s *seller.Seller) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sellers[s.ID] = &cp
	return nil
}

func (m memSellers) GetByID(_ context.Context, id string) (*seller.Seller, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sellers[id]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, seller.ErrNotFound
}

func (m memSellers) GetByEmail(_ context.Context, email string) (*seller.Seller, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sellers {
		if s.Email == email {
			cp := *s
			return &cp, nil
		}
	}
	return nil, seller.ErrNotFound
}

type memCatalog struct {
	*memStore
	listErr error
}

func (m memCatalog) List(context.Context) ([]product.Product, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]product.Product, 0, len(m.products))
	for _, p := range m.products {
		out = append(out, *p)
	}
	slices.SortFunc(out, func(a, b product.Product) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

func (m memCatalog) GetByID(_ context.Context, id string) (*product.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.products[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, product.ErrNotFound
}

func (m memCatalog) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	var out []product.Product
	for _, id := range ids {
		if p, err := m.GetByID(ctx, id); err == nil {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m memCatalog) DecrementStock(_ context.Context, id string, qty int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return product.ErrNotFound
	}
	if p.Stock < qty {
		return &product.InsufficientStockError{ProductID: id, Requested: qty, Available: p.Stock}
	}
	p.Stock -= qty
	return nil
}

func (m memCatalog) IncrementStock(_ context.Context, id string, qty int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return product.ErrNotFound
	}
	p.Stock += qty
	return nil
}

func (m memCatalog) IncrementOrderCount(_ context.Context, id string, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.products[id]; ok {
		p.OrderCount += n
	}
	return nil
}

type memCarts struct{ *memStore }

func cloneCart(c *cart.Cart) *cart.Cart {
	cp := *c
	cp.Items = slices.Clone(c.Items)
	return &cp
}

func (m memCarts) Get(_ context.Context, buyerID string) (*cart.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.carts[buyerID]; ok {
		return cloneCart(c), nil
	}
	return cart.New(buyerID), nil
}

func (m memCarts) GetForUpdate(ctx context.Context, buyerID string) (*cart.Cart, error) {
	return m.Get(ctx, buyerID)
}

func (m memCarts) Update(_ context.Context, buyerID string, fn func(c *cart.Cart) error) (*cart.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := cart.New(buyerID)
	if stored, ok := m.carts[buyerID]; ok {
		c = cloneCart(stored)
	}
	if err := fn(c); err != nil {
		return nil, err
	}
	c.Recalculate()
	c.UpdatedAt = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m.carts[buyerID] = cloneCart(c)
	return c, nil
}

type memOrders struct{ *memStore }

func (m memOrders) Create(_ context.Context, o *order.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *o
	m.orders[o.OrderID] = &cp
	return nil
}

func (m memOrders) GetByOrderID(_ context.Context, orderID string) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.orders[orderID]; ok {
		cp := *o
		return &cp, nil
	}
	return nil, order.ErrNotFound
}

func (m memOrders) list(match func(*order.Order) bool) []order.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []order.Order
	for _, o := range m.orders {
		if match(o) {
			out = append(out, *o)
		}
	}
	slices.SortFunc(out, func(a, b order.Order) int { return strings.Compare(b.OrderID, a.OrderID) })
	return out
}

func (m memOrders) ListByBuyer(_ context.Context, buyerID string, _ int) ([]order.Order, error) {
	return m.list(func(o *order.Order) bool { return o.BuyerID == buyerID }), nil
}

func (m memOrders) ListBySeller(_ context.Context, sellerID string, _ int) ([]order.Order, error) {
	return m.list(func(o *order.Order) bool { return o.SellerID == sellerID }), nil
}

func (m memOrders) UpdateStatus(_ context.Context, orderID string, from, to order.Status, reason order.CancelReason, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return order.ErrNotFound
	}
	if o.Status != from {
		return order.ErrInvalidTransition
	}
	if (to == order.StatusCancelled) != (reason != "") {
		return errors.New("cancel_reason violates check constraint")
	}
	o.Status = to
	o.UpdatedAt = at
	o.CancelReason = reason
	return nil
}

func (m memOrders) NextSequence(_ context.Context, day time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := day.UTC().Format(time.DateOnly)
	m.sequences[key]++
	return m.sequences[key], nil
}

type memNotifications struct{ *memStore }

func (m memNotifications) Create(_ context.Context, n *notification.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inbox = append(m.inbox, *n)
	return nil
}

func (m memNotifications) ListRecent(_ context.Context, recipientID string, limit int) ([]notification.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []notification.Notification
	for i := len(m.inbox) - 1; i >= 0 && len(out) < limit; i-- {
		if m.inbox[i].RecipientID == recipientID {
			out = append(out, m.inbox[i])
		}
	}
	return out, nil
}

func (m memNotifications) MarkRead(_ context.Context, recipientID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.inbox {
		if m.inbox[i].ID == id && m.inbox[i].RecipientID == recipientID {
			m.inbox[i].Read = true
			return nil
		}
	}
	return notification.ErrNotFound
}

type memSubscriptions struct{ *memStore }

func (m memSubscriptions) Save(_ context.Context, s notification.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, s)
	return nil
}

func (m memSubscriptions) ListByRecipient(context.Context, string) ([]notification.Subscription, error) {
	return nil, nil
}

func (m memSubscriptions) DeleteByEndpoint(context.Context, string) error { return nil }

type memAPIKeys struct{ *memStore }

func (m memAPIKeys) FindByHash(_ context.Context, hash string) (*auth.APIKeyInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if info, ok := m.apiKeys[hash]; ok {
		cp := *info
		return &cp, nil
	}
	return nil, auth.ErrKeyNotFound
}

// recordingNotifier captures messages synchronously.
type recordingNotifier struct {
	mu   sync.Mutex
	msgs []notification.Message
}

func (r *recordingNotifier) Notify(_ context.Context, msg notification.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

type plainHasher struct{}

func (plainHasher) Hash(password string) (string, error) { return "plain:" + password, nil }

func (plainHasher) Compare(hash, password string) error {
	if hash != "plain:"+password {
		return errors.New("mismatch")
	}
	return nil
}

// --- Test environment ---

const (
	testPepper   = "test-pepper"
	testSecret   = "test-secret"
	testAPIKey   = "sk_test_seller"
	testSellerID = "seller-1"
)

type testEnv struct {
	store    *memStore
	catalog  *memCatalog
	tokens   *security.JWTIssuer
	notifier *recordingNotifier
	handler  http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := newMemStore()
	catalog := &memCatalog{memStore: store}
	ledger := memLedger{store}
	tokens := security.NewJWTIssuer(testSecret, time.Hour, "storefront-test")
	notifier := &recordingNotifier{}

	store.sellers[testSellerID] = &seller.Seller{
		ID: testSellerID, Name: "Acme", Email: "ops@acme.test", PasswordHash: "plain:seller-pass",
	}
	store.products["p-1"] = &product.Product{
		ID:            "p-1",
		SellerID:      testSellerID,
		Name:          "Kettle",
		Category:      "Kitchen",
		Price:         decimal.NewFromInt(100),
		DeliveryPrice: decimal.NewFromInt(5),
		Stock:         10,
		Colors:        []product.Color{{ID: "red", Name: "Red", Images: []string{"kettle-red.jpg"}}},
		Image:         product.Image{Thumbnail: "kettle-thumb.jpg", Desktop: "https://cdn.other/kettle.jpg"},
	}
	store.apiKeys[auth.HashAPIKey([]byte(testPepper), testAPIKey)] = &auth.APIKeyInfo{
		ID:       "key-1",
		KeyHash:  auth.HashAPIKey([]byte(testPepper), testAPIKey),
		Name:     "Acme fulfilment",
		SellerID: testSellerID,
		Scopes:   []string{auth.ScopeOrders},
	}

	buyers := buyer.NewService(ledger, memAddresses{store}, store, buyer.NewCodeIssuer(ledger, 16), plainHasher{})
	orders, err := order.NewService(order.Deps{
		Orders:    memOrders{store},
		Catalog:   catalog,
		Ledger:    ledger,
		Carts:     memCarts{store},
		Addresses: memAddresses{store},
		Tx:        store,
		Notifier:  notifier,
		Clock:     func() time.Time { return time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)

	api := NewAPI(Dependencies{
		Auth:         auth.NewService(buyers, memSellers{store}, plainHasher{}, tokens),
		Tokens:       tokens,
		APIKeys:      auth.NewAPIKeyAuthenticator(memAPIKeys{store}, []byte(testPepper)),
		Buyers:       buyers,
		Products:     catalog,
		Carts:        cart.NewService(memCarts{store}, catalog),
		Orders:       orders,
		Inbox:        notification.NewInbox(memNotifications{store}, memSubscriptions{store}),
		ImageBaseURL: "https://cdn.example.com/images/",
	})

	return &testEnv{
		store:    store,
		catalog:  catalog,
		tokens:   tokens,
		notifier: notifier,
		handler:  api.Router(),
	}
}

// addBuyer stores a buyer and returns a bearer token for it.
func (e *testEnv) addBuyer(t *testing.T, b buyer.Buyer) string {
	t.Helper()
	if b.PasswordHash == "" {
		b.PasswordHash = "plain:password123"
	}
	e.store.buyers[b.ID] = &b
	return e.token(t, auth.Principal{ID: b.ID, Role: auth.RoleBuyer, Name: b.Username})
}

func (e *testEnv) token(t *testing.T, p auth.Principal) string {
	t.Helper()
	token, _, err := e.tokens.Issue(p)
	require.NoError(t, err)
	return token
}

func (e *testEnv) sellerToken(t *testing.T) string {
	return e.token(t, auth.Principal{ID: testSellerID, Role: auth.RoleSeller, Name: "Acme"})
}

func (e *testEnv) do(t *testing.T, method, path, token, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}
