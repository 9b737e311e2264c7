package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/storefront/internal/domain/order"
)

const (
	orderColumns = `id, order_id, buyer_id, seller_id, items, status, total_amount, delivery_price,
		referral_discount, coins_used, coin_value_used, final_amount, shipping_address,
		payment_method, cancel_reason, created_at, updated_at`

	createOrderSQL = `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	getOrderSQL     = `SELECT ` + orderColumns + ` FROM orders WHERE order_id = $1`
	listByBuyerSQL  = `SELECT ` + orderColumns + ` FROM orders WHERE buyer_id = $1 ORDER BY created_at DESC LIMIT $2`
	listBySellerSQL = `SELECT ` + orderColumns + ` FROM orders WHERE seller_id = $1 ORDER BY created_at DESC LIMIT $2`
	orderExistsSQL  = `SELECT EXISTS (SELECT 1 FROM orders WHERE order_id = $1)`
	updateStatusSQL = `UPDATE orders SET status = $3, cancel_reason = $4, updated_at = $5
		WHERE order_id = $1 AND status = $2`
	nextSequenceSQL = `INSERT INTO order_sequences (day, last) VALUES ($1::date, 1)
		ON CONFLICT (day) DO UPDATE SET last = order_sequences.last + 1
		RETURNING last`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	db *DB
}

// NewOrderRepository returns an OrderRepository that uses the given DB.
func NewOrderRepository(db *DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create persists a new order. Items and the shipping address are stored as JSONB.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshaling order items: %w", err)
	}
	addressJSON, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return fmt.Errorf("marshaling shipping address: %w", err)
	}

	_, err = r.db.q(ctx).Exec(ctx, createOrderSQL,
		o.ID, o.OrderID, o.BuyerID, o.SellerID, itemsJSON, string(o.Status), o.TotalAmount, o.DeliveryPrice,
		o.ReferralDiscount, o.CoinsUsed, o.CoinValueUsed, o.FinalAmount, addressJSON,
		o.PaymentMethod, nullString(string(o.CancelReason)), o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.OrderID, err)
	}
	return nil
}

// GetByOrderID returns an order by its human-readable identifier.
func (r *OrderRepository) GetByOrderID(ctx context.Context, orderID string) (*order.Order, error) {
	rows, err := r.db.q(ctx).Query(ctx, getOrderSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", orderID, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", orderID, err)
	}
	return &o, nil
}

// ListByBuyer returns the buyer's orders, newest first.
func (r *OrderRepository) ListByBuyer(ctx context.Context, buyerID string, limit int) ([]order.Order, error) {
	return r.list(ctx, listByBuyerSQL, buyerID, limit)
}

// ListBySeller returns the seller's orders, newest first.
func (r *OrderRepository) ListBySeller(ctx context.Context, sellerID string, limit int) ([]order.Order, error) {
	return r.list(ctx, listBySellerSQL, sellerID, limit)
}

func (r *OrderRepository) list(ctx context.Context, sql, ownerID string, limit int) ([]order.Order, error) {
	rows, err := r.db.q(ctx).Query(ctx, sql, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	return pgx.CollectRows(rows, scanOrder)
}

// UpdateStatus moves the order from one status to another only if it is
// still in the expected status.
func (r *OrderRepository) UpdateStatus(
	ctx context.Context,
	orderID string,
	from, to order.Status,
	reason order.CancelReason,
	at time.Time,
) error {
	if to != order.StatusCancelled {
		reason = ""
	}
	q := r.db.q(ctx)
	tag, err := q.Exec(ctx, updateStatusSQL, orderID, string(from), string(to), nullString(string(reason)), at)
	if err != nil {
		return fmt.Errorf("updating status of %q: %w", orderID, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := q.QueryRow(ctx, orderExistsSQL, orderID).Scan(&exists); err != nil {
		return fmt.Errorf("checking order %q: %w", orderID, err)
	}
	if !exists {
		return order.ErrNotFound
	}
	return order.ErrInvalidTransition
}

// NextSequence increments and returns the order counter for day's UTC date.
func (r *OrderRepository) NextSequence(ctx context.Context, day time.Time) (int, error) {
	var seq int
	if err := r.db.q(ctx).QueryRow(ctx, nextSequenceSQL, day.UTC().Format(time.DateOnly)).Scan(&seq); err != nil {
		return 0, fmt.Errorf("allocating order sequence: %w", err)
	}
	return seq, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o           order.Order
		itemsJSON   []byte
		addressJSON []byte
		status      string
		reason      *string
	)
	err := row.Scan(
		&o.ID, &o.OrderID, &o.BuyerID, &o.SellerID, &itemsJSON, &status, &o.TotalAmount, &o.DeliveryPrice,
		&o.ReferralDiscount, &o.CoinsUsed, &o.CoinValueUsed, &o.FinalAmount, &addressJSON,
		&o.PaymentMethod, &reason, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return o, err
	}
	o.Status = order.Status(status)
	o.CancelReason = order.CancelReason(derefString(reason))

	if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
		return o, fmt.Errorf("unmarshaling items of %q: %w", o.OrderID, err)
	}
	if err := json.Unmarshal(addressJSON, &o.ShippingAddress); err != nil {
		return o, fmt.Errorf("unmarshaling address of %q: %w", o.OrderID, err)
	}
	return o, nil
}
