package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/storefront/internal/domain/cart"
)

const (
	ensureCartSQL = `INSERT INTO carts (buyer_id, total_amount, updated_at)
		VALUES ($1, 0, $2) ON CONFLICT (buyer_id) DO NOTHING`
	getCartSQL         = `SELECT total_amount, updated_at FROM carts WHERE buyer_id = $1`
	getCartForUpdSQL   = getCartSQL + ` FOR UPDATE`
	saveCartSQL        = `UPDATE carts SET total_amount = $2, updated_at = $3 WHERE buyer_id = $1`
	deleteCartItemsSQL = `DELETE FROM cart_items WHERE buyer_id = $1`

	listCartItemsSQL = `SELECT product_id, quantity, price, is_selected, color
		FROM cart_items WHERE buyer_id = $1 ORDER BY position`
	insertCartItemSQL = `INSERT INTO cart_items
		(buyer_id, position, product_id, color_id, color, quantity, price, is_selected)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
)

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository backed by PostgreSQL. Lines are
// stored in cart_items in cart order.
type CartRepository struct {
	db  *DB
	now func() time.Time
}

// NewCartRepository returns a CartRepository that uses the given DB.
func NewCartRepository(db *DB) *CartRepository {
	return &CartRepository{db: db, now: time.Now}
}

// Get returns the buyer's cart, or an empty one.
func (r *CartRepository) Get(ctx context.Context, buyerID string) (*cart.Cart, error) {
	return r.load(ctx, getCartSQL, buyerID)
}

// GetForUpdate returns the buyer's cart locked for the current transaction.
func (r *CartRepository) GetForUpdate(ctx context.Context, buyerID string) (*cart.Cart, error) {
	return r.load(ctx, getCartForUpdSQL, buyerID)
}

// Update applies fn to the locked cart and writes the result back.
func (r *CartRepository) Update(ctx context.Context, buyerID string, fn func(c *cart.Cart) error) (*cart.Cart, error) {
	var out *cart.Cart
	err := r.db.InTx(ctx, func(ctx context.Context) error {
		q := r.db.q(ctx)
		if _, err := q.Exec(ctx, ensureCartSQL, buyerID, r.now()); err != nil {
			return fmt.Errorf("creating cart for %q: %w", buyerID, err)
		}

		c, err := r.load(ctx, getCartForUpdSQL, buyerID)
		if err != nil {
			return err
		}
		if err := fn(c); err != nil {
			return err
		}
		c.Recalculate()
		c.UpdatedAt = r.now()

		if err := r.save(ctx, c); err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *CartRepository) load(ctx context.Context, sql, buyerID string) (*cart.Cart, error) {
	q := r.db.q(ctx)
	c := cart.New(buyerID)
	err := q.QueryRow(ctx, sql, buyerID).Scan(&c.TotalAmount, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting cart of %q: %w", buyerID, err)
	}

	rows, err := q.Query(ctx, listCartItemsSQL, buyerID)
	if err != nil {
		return nil, fmt.Errorf("listing cart items of %q: %w", buyerID, err)
	}
	c.Items, err = pgx.CollectRows(rows, scanCartItem)
	if err != nil {
		return nil, fmt.Errorf("scanning cart items of %q: %w", buyerID, err)
	}
	return c, nil
}

func (r *CartRepository) save(ctx context.Context, c *cart.Cart) error {
	q := r.db.q(ctx)
	if _, err := q.Exec(ctx, deleteCartItemsSQL, c.BuyerID); err != nil {
		return fmt.Errorf("clearing cart items of %q: %w", c.BuyerID, err)
	}

	if len(c.Items) > 0 {
		batch := &pgx.Batch{}
		for pos, it := range c.Items {
			var colorJSON []byte
			if it.Color != nil {
				data, err := json.Marshal(it.Color)
				if err != nil {
					return fmt.Errorf("marshaling color: %w", err)
				}
				colorJSON = data
			}
			batch.Queue(insertCartItemSQL,
				c.BuyerID, pos, it.ProductID, it.Key().ColorID, colorJSON, it.Quantity, it.Price, it.IsSelected,
			)
		}
		if err := q.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("inserting cart items of %q: %w", c.BuyerID, err)
		}
	}

	if _, err := q.Exec(ctx, saveCartSQL, c.BuyerID, c.TotalAmount, c.UpdatedAt); err != nil {
		return fmt.Errorf("saving cart of %q: %w", c.BuyerID, err)
	}
	return nil
}

func scanCartItem(row pgx.CollectableRow) (cart.Item, error) {
	var (
		it        cart.Item
		colorJSON []byte
	)
	if err := row.Scan(&it.ProductID, &it.Quantity, &it.Price, &it.IsSelected, &colorJSON); err != nil {
		return it, err
	}
	if len(colorJSON) > 0 {
		var c cart.Color
		if err := json.Unmarshal(colorJSON, &c); err != nil {
			return it, fmt.Errorf("unmarshaling color: %w", err)
		}
		it.Color = &c
	}
	return it, nil
}
