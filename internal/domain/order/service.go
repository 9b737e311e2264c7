package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/buyer"
	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/discount"
	"github.com/xenking/storefront/internal/domain/notification"
	"github.com/xenking/storefront/internal/domain/product"
)

const (
	instrumentationName = "github.com/xenking/storefront/internal/domain/order"
	listLimit           = 100
)

// DefaultRewardRatio is the share of an order total credited to the
// referrer, in coins, when a referred buyer's order is delivered.
var DefaultRewardRatio = decimal.RequireFromString("0.02")

// Role identifies the kind of principal acting on an order.
type Role string

// Actor roles.
const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
)

// Actor is the authenticated principal performing an operation.
type Actor struct {
	ID   string
	Role Role
}

// PlaceRequest holds the fields shared by both order entry points.
type PlaceRequest struct {
	BuyerID         string
	ShippingAddress buyer.Address
	PaymentMethod   string
	UseCoins        bool
}

// DirectRequest places an order for a single product without the cart.
type DirectRequest struct {
	PlaceRequest
	ProductID string
	Quantity  int
	ColorID   string
}

// Deps bundles collaborators required to construct the order service.
type Deps struct {
	Orders    Repository
	Catalog   product.Catalog
	Ledger    buyer.Ledger
	Carts     cart.Repository
	Addresses buyer.AddressBook
	Tx        Transactor
	Notifier  notification.Notifier

	Policy      discount.Policy
	RewardRatio decimal.Decimal
	// RewardFirstOrderOnly limits the referral reward to the referred
	// buyer's first delivered order.
	RewardFirstOrderOnly bool

	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
	Clock          func() time.Time
}

// Service encapsulates order settlement and the order lifecycle.
type Service struct {
	orders    Repository
	catalog   product.Catalog
	ledger    buyer.Ledger
	carts     cart.Repository
	addresses buyer.AddressBook
	tx        Transactor
	notifier  notification.Notifier

	policy         discount.Policy
	rewardRatio    decimal.Decimal
	firstOrderOnly bool
	now            func() time.Time

	tracer        trace.Tracer
	ordersPlaced  metric.Int64Counter
	coinsRedeemed metric.Int64Counter
	coinsRewarded metric.Int64Counter
	transitions   metric.Int64Counter
}

// NewService wires dependencies into an order Service.
func NewService(d Deps) (*Service, error) {
	switch {
	case d.Orders == nil:
		return nil, errors.New("order repository is required")
	case d.Catalog == nil:
		return nil, errors.New("product catalog is required")
	case d.Ledger == nil:
		return nil, errors.New("buyer ledger is required")
	case d.Carts == nil:
		return nil, errors.New("cart repository is required")
	case d.Tx == nil:
		return nil, errors.New("transactor is required")
	}

	s := &Service{
		orders:         d.Orders,
		catalog:        d.Catalog,
		ledger:         d.Ledger,
		carts:          d.Carts,
		addresses:      d.Addresses,
		tx:             d.Tx,
		notifier:       d.Notifier,
		policy:         d.Policy,
		rewardRatio:    d.RewardRatio,
		firstOrderOnly: d.RewardFirstOrderOnly,
		now:            d.Clock,
	}
	if s.notifier == nil {
		s.notifier = notification.Nop{}
	}
	if s.policy.CoinRate.IsZero() {
		s.policy = discount.DefaultPolicy()
	}
	if s.rewardRatio.IsZero() {
		s.rewardRatio = DefaultRewardRatio
	}
	if s.now == nil {
		s.now = time.Now
	}

	tp := d.TracerProvider
	if tp == nil {
		tp = tracenoop.NewTracerProvider()
	}
	mp := d.MeterProvider
	if mp == nil {
		mp = metricnoop.NewMeterProvider()
	}
	s.tracer = tp.Tracer(instrumentationName)

	meter := mp.Meter(instrumentationName)
	var err error
	if s.ordersPlaced, err = meter.Int64Counter("storefront.orders.placed",
		metric.WithDescription("Orders placed"),
	); err != nil {
		return nil, errors.Wrap(err, "orders placed counter")
	}
	if s.coinsRedeemed, err = meter.Int64Counter("storefront.referral.coins_redeemed",
		metric.WithDescription("Referral coins spent on order discounts"),
	); err != nil {
		return nil, errors.Wrap(err, "coins redeemed counter")
	}
	if s.coinsRewarded, err = meter.Int64Counter("storefront.referral.coins_rewarded",
		metric.WithDescription("Referral coins credited to referrers"),
	); err != nil {
		return nil, errors.Wrap(err, "coins rewarded counter")
	}
	if s.transitions, err = meter.Int64Counter("storefront.orders.transitions",
		metric.WithDescription("Order status transitions"),
	); err != nil {
		return nil, errors.Wrap(err, "transitions counter")
	}
	return s, nil
}

// CreateFromCart places an order for every selected line of the buyer's
// cart. All selected lines must belong to one seller. The cart is read under
// a row lock, and the ordered lines are removed from it in the same
// transaction that creates the order.
func (s *Service) CreateFromCart(ctx context.Context, req PlaceRequest) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.CreateFromCart",
		trace.WithAttributes(attribute.String("buyer.id", req.BuyerID)))
	defer func() { endSpan(span, rerr) }()

	if req.ShippingAddress.IsZero() {
		return nil, ErrAddressRequired
	}

	var o *Order
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		c, err := s.carts.GetForUpdate(ctx, req.BuyerID)
		if err != nil {
			return errors.Wrap(err, "get cart")
		}
		products, err := cart.CheckStock(ctx, s.catalog, c)
		if err != nil {
			return err
		}

		selected := c.Selected()
		first := products[selected[0].ProductID]
		o = s.draft(req, first)
		keys := make([]cart.Key, 0, len(selected))
		for _, line := range selected {
			p := products[line.ProductID]
			if p.SellerID != first.SellerID {
				return ErrMixedSellers
			}
			o.Items = append(o.Items, Item{
				ProductID: line.ProductID,
				Name:      p.Name,
				Quantity:  line.Quantity,
				Price:     line.Price,
				Color:     line.Color,
			})
			keys = append(keys, line.Key())
		}
		return s.settle(ctx, o, req, keys)
	})
	if err != nil {
		return nil, err
	}

	s.placed(ctx, o)
	return o, nil
}

// CreateDirect places an order for a single product, bypassing the cart.
func (s *Service) CreateDirect(ctx context.Context, req DirectRequest) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.CreateDirect",
		trace.WithAttributes(
			attribute.String("buyer.id", req.BuyerID),
			attribute.String("product.id", req.ProductID),
		))
	defer func() { endSpan(span, rerr) }()

	if req.Quantity < 1 {
		return nil, ErrInvalidQuantity
	}
	if req.ShippingAddress.IsZero() {
		return nil, ErrAddressRequired
	}

	p, err := s.catalog.GetByID(ctx, req.ProductID)
	if err != nil {
		if errors.Is(err, product.ErrNotFound) {
			return nil, &ProductNotFoundError{ProductID: req.ProductID}
		}
		return nil, errors.Wrap(err, "get product")
	}

	var color *cart.Color
	if req.ColorID != "" {
		pc, ok := p.Color(req.ColorID)
		if !ok {
			return nil, &cart.ColorNotFoundError{ProductID: p.ID, ColorID: req.ColorID}
		}
		color = &cart.Color{ID: pc.ID, Name: pc.Name}
		if len(pc.Images) > 0 {
			color.Image = pc.Images[0]
		}
	}
	if req.Quantity > p.Stock {
		return nil, &product.InsufficientStockError{ProductID: p.ID, Requested: req.Quantity, Available: p.Stock}
	}

	o := s.draft(req.PlaceRequest, *p)
	o.Items = []Item{{
		ProductID: p.ID,
		Name:      p.Name,
		Quantity:  req.Quantity,
		Price:     p.SalePrice(),
		Color:     color,
	}}

	if err := s.tx.InTx(ctx, func(ctx context.Context) error {
		return s.settle(ctx, o, req.PlaceRequest, nil)
	}); err != nil {
		return nil, err
	}

	s.placed(ctx, o)
	return o, nil
}

func (s *Service) draft(req PlaceRequest, first product.Product) *Order {
	now := s.now()
	return &Order{
		ID:               uuid.New().String(),
		BuyerID:          req.BuyerID,
		SellerID:         first.SellerID,
		Status:           StatusPending,
		DeliveryPrice:    first.DeliveryPrice,
		ReferralDiscount: decimal.Zero,
		CoinValueUsed:    s.policy.CoinRate,
		ShippingAddress:  req.ShippingAddress,
		PaymentMethod:    req.PaymentMethod,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// settle runs the atomic part of order placement: coin debit, stock
// decrements, order number allocation, order insert and cart cleanup.
// It must run inside a transaction.
func (s *Service) settle(ctx context.Context, o *Order, req PlaceRequest, cartKeys []cart.Key) error {
	o.Recalculate()

	if req.UseCoins {
		if err := s.redeem(ctx, o); err != nil {
			return err
		}
	}

	for _, it := range o.Items {
		if err := s.catalog.DecrementStock(ctx, it.ProductID, it.Quantity); err != nil {
			return errors.Wrapf(err, "decrement stock of %s", it.ProductID)
		}
	}

	seq, err := s.orders.NextSequence(ctx, o.CreatedAt)
	if err != nil {
		return errors.Wrap(err, "next order sequence")
	}
	o.OrderID = FormatOrderID(o.CreatedAt, seq)

	if err := s.orders.Create(ctx, o); err != nil {
		return errors.Wrap(err, "create order")
	}

	if len(cartKeys) > 0 {
		if _, err := s.carts.Update(ctx, o.BuyerID, func(c *cart.Cart) error {
			c.RemoveKeys(cartKeys...)
			return nil
		}); err != nil {
			return errors.Wrap(err, "remove ordered cart lines")
		}
	}
	return nil
}

// placed records a committed order. Side effects that may fail without
// affecting the order run here.
func (s *Service) placed(ctx context.Context, o *Order) {
	s.ordersPlaced.Add(ctx, 1)
	if o.CoinsUsed > 0 {
		s.coinsRedeemed.Add(ctx, o.CoinsUsed)
	}
	zctx.From(ctx).Info("Order placed",
		zap.String("order_id", o.OrderID),
		zap.String("buyer_id", o.BuyerID),
		zap.String("final_amount", o.FinalAmount.String()),
		zap.Int64("coins_used", o.CoinsUsed),
	)

	s.afterPlace(ctx, o)
}

// redeem applies the buyer's referral coins to o and debits them.
func (s *Service) redeem(ctx context.Context, o *Order) error {
	b, err := s.ledger.GetByID(ctx, o.BuyerID)
	if err != nil {
		return errors.Wrap(err, "get buyer")
	}

	res := s.policy.Calculate(b.ReferralCoins, o.TotalAmount)
	if res.CoinsUsed <= 0 {
		return ErrNothingToRedeem
	}
	if _, err := s.ledger.AdjustCoins(ctx, o.BuyerID, -res.CoinsUsed); err != nil {
		return errors.Wrap(err, "debit referral coins")
	}

	o.ReferralDiscount = res.Discount
	o.CoinsUsed = res.CoinsUsed
	o.Recalculate()
	return nil
}

func (s *Service) afterPlace(ctx context.Context, o *Order) {
	lg := zctx.From(ctx).With(zap.String("order_id", o.OrderID))

	if s.addresses != nil {
		if err := s.addresses.Save(ctx, o.BuyerID, o.ShippingAddress, o.CreatedAt); err != nil {
			lg.Warn("Save shipping address", zap.Error(err))
		}
	}

	counts := make(map[string]int, len(o.Items))
	for _, it := range o.Items {
		counts[it.ProductID] += it.Quantity
	}
	for id, n := range counts {
		if err := s.catalog.IncrementOrderCount(ctx, id, n); err != nil {
			lg.Warn("Increment order count", zap.String("product_id", id), zap.Error(err))
		}
	}

	s.notifier.Notify(ctx, notification.Message{
		Recipients: []string{o.SellerID},
		Type:       notification.TypeNewOrder,
		Title:      "New order received",
		Body:       fmt.Sprintf("Order %s was placed for %s", o.OrderID, o.FinalAmount.StringFixed(2)),
		Data:       orderData(o),
	})
	s.notifier.Notify(ctx, notification.Message{
		Recipients: []string{o.BuyerID},
		Type:       notification.TypeOrderStatus,
		Title:      "Order " + o.OrderID,
		Body:       StatusPending.Message(),
		Data:       orderData(o),
	})
}

// UpdateStatus moves an order to status to. Sellers may advance their own
// orders one step at a time or cancel them; buyers may only cancel their own
// orders. reason is required when to is StatusCancelled.
func (s *Service) UpdateStatus(ctx context.Context, actor Actor, orderID string, to Status, reason CancelReason) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.UpdateStatus",
		trace.WithAttributes(
			attribute.String("order.id", orderID),
			attribute.String("order.status", string(to)),
		))
	defer func() { endSpan(span, rerr) }()

	if !to.Valid() {
		return nil, ErrInvalidStatus
	}
	if to != StatusCancelled {
		// Only cancelled orders carry a reason.
		reason = ""
	} else if !reason.Valid() {
		return nil, ErrInvalidCancelReason
	}

	o, err := s.orders.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := authorize(actor, o, to); err != nil {
		return nil, err
	}

	from := o.Status
	if !from.CanTransition(to) {
		return nil, &TransitionError{OrderID: orderID, From: from, To: to}
	}

	now := s.now()
	var rewarded *reward
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.orders.UpdateStatus(ctx, orderID, from, to, reason, now); err != nil {
			if errors.Is(err, ErrInvalidTransition) {
				return &TransitionError{OrderID: orderID, From: from, To: to}
			}
			return errors.Wrap(err, "update status")
		}

		switch to {
		case StatusCancelled:
			for _, it := range o.Items {
				if err := s.catalog.IncrementStock(ctx, it.ProductID, it.Quantity); err != nil {
					return errors.Wrapf(err, "restore stock of %s", it.ProductID)
				}
			}
		case StatusDelivered:
			r, err := s.rewardReferrer(ctx, o, now)
			if err != nil {
				return err
			}
			rewarded = r
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	o.Status = to
	o.UpdatedAt = now
	if to == StatusCancelled {
		o.CancelReason = reason
	}

	s.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(to))))
	if rewarded != nil {
		s.coinsRewarded.Add(ctx, rewarded.coins)
	}
	zctx.From(ctx).Info("Order status changed",
		zap.String("order_id", orderID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("actor", actor.ID),
	)

	s.notifyTransition(ctx, o, rewarded)
	return o, nil
}

// Cancel cancels an order with the given reason.
func (s *Service) Cancel(ctx context.Context, actor Actor, orderID string, reason CancelReason) (*Order, error) {
	return s.UpdateStatus(ctx, actor, orderID, StatusCancelled, reason)
}

type reward struct {
	referrerID string
	coins      int64
}

// rewardReferrer credits the buyer's referrer for a delivered order.
// It runs inside the status transaction, so a delivered order is rewarded at
// most once.
func (s *Service) rewardReferrer(ctx context.Context, o *Order, now time.Time) (*reward, error) {
	b, err := s.ledger.GetByID(ctx, o.BuyerID)
	if err != nil {
		return nil, errors.Wrap(err, "get buyer")
	}
	if !b.HasReferrer() {
		return nil, nil
	}

	coins := o.TotalAmount.Mul(s.rewardRatio).Floor().IntPart()
	if coins <= 0 {
		return nil, nil
	}

	if s.firstOrderOnly {
		history, err := s.ledger.ReferralHistory(ctx, b.ReferredBy)
		if err != nil {
			return nil, errors.Wrap(err, "referral history")
		}
		for _, e := range history {
			if e.ReferredUser == b.ID {
				return nil, nil
			}
		}
	}

	if _, err := s.ledger.AdjustCoins(ctx, b.ReferredBy, coins); err != nil {
		if errors.Is(err, buyer.ErrNotFound) {
			zctx.From(ctx).Warn("Referrer no longer exists", zap.String("referrer_id", b.ReferredBy))
			return nil, nil
		}
		return nil, errors.Wrap(err, "credit referrer")
	}
	if err := s.ledger.AppendReferralHistory(ctx, b.ReferredBy, buyer.ReferralEntry{
		ReferredUser: b.ID,
		OrderID:      o.OrderID,
		CoinsEarned:  coins,
		OrderAmount:  o.TotalAmount,
		CreatedAt:    now,
	}); err != nil {
		return nil, errors.Wrap(err, "append referral history")
	}
	return &reward{referrerID: b.ReferredBy, coins: coins}, nil
}

func (s *Service) notifyTransition(ctx context.Context, o *Order, r *reward) {
	data := orderData(o)
	title := "Order " + o.OrderID

	switch o.Status {
	case StatusCancelled:
		s.notifier.Notify(ctx, notification.Message{
			Recipients: []string{o.BuyerID},
			Type:       notification.TypeOrderCancelled,
			Title:      title,
			Body:       fmt.Sprintf("%s. Reason: %s", StatusCancelled.Message(), o.CancelReason),
			Data:       data,
		})
		s.notifier.Notify(ctx, notification.Message{
			Recipients: []string{o.SellerID},
			Type:       notification.TypeOrderCancelled,
			Title:      title,
			Body:       fmt.Sprintf("Order %s was cancelled. Reason: %s", o.OrderID, o.CancelReason),
			Data:       data,
		})
	case StatusDelivered:
		s.notifier.Notify(ctx, notification.Message{
			Recipients: []string{o.BuyerID},
			Type:       notification.TypeOrderDelivered,
			Title:      title,
			Body:       StatusDelivered.Message(),
			Data:       data,
		})
		if r != nil {
			s.notifier.Notify(ctx, notification.Message{
				Recipients: []string{r.referrerID},
				Type:       notification.TypeReferralReward,
				Title:      "Referral reward",
				Body:       fmt.Sprintf("You earned %d coins from a referred order", r.coins),
				Data: map[string]string{
					"orderId": o.OrderID,
					"coins":   fmt.Sprint(r.coins),
				},
			})
		}
	default:
		s.notifier.Notify(ctx, notification.Message{
			Recipients: []string{o.BuyerID},
			Type:       notification.TypeOrderStatus,
			Title:      title,
			Body:       o.Status.Message(),
			Data:       data,
		})
	}
}

// Get returns an order visible to actor.
func (s *Service) Get(ctx context.Context, actor Actor, orderID string) (*Order, error) {
	o, err := s.orders.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !canView(actor, o) {
		// Hide existence of other principals' orders.
		return nil, ErrNotFound
	}
	return o, nil
}

// ListForBuyer returns the buyer's most recent orders.
func (s *Service) ListForBuyer(ctx context.Context, buyerID string) ([]Order, error) {
	return s.orders.ListByBuyer(ctx, buyerID, listLimit)
}

// ListForSeller returns the seller's most recent orders.
func (s *Service) ListForSeller(ctx context.Context, sellerID string) ([]Order, error) {
	return s.orders.ListBySeller(ctx, sellerID, listLimit)
}

func canView(actor Actor, o *Order) bool {
	switch actor.Role {
	case RoleBuyer:
		return o.BuyerID == actor.ID
	case RoleSeller:
		return o.SellerID == actor.ID
	}
	return false
}

func authorize(actor Actor, o *Order, to Status) error {
	switch actor.Role {
	case RoleBuyer:
		if o.BuyerID == actor.ID && to == StatusCancelled {
			return nil
		}
	case RoleSeller:
		if o.SellerID == actor.ID {
			return nil
		}
	}
	return ErrForbidden
}

func orderData(o *Order) map[string]string {
	return map[string]string{
		"orderId": o.OrderID,
		"status":  string(o.Status),
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
