package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/storefront/internal/domain/product"
)

const (
	productColumns = `id, seller_id, name, category, price, discount_percent, delivery_price, stock, order_count,
		colors, image_thumbnail, image_mobile, image_tablet, image_desktop`

	listProductsSQL     = `SELECT ` + productColumns + ` FROM products ORDER BY id`
	getProductByIDSQL   = `SELECT ` + productColumns + ` FROM products WHERE id = $1`
	getProductsByIDsSQL = `SELECT ` + productColumns + ` FROM products WHERE id = ANY($1)`

	upsertProductSQL = `INSERT INTO products (` + productColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			seller_id = EXCLUDED.seller_id, name = EXCLUDED.name, category = EXCLUDED.category,
			price = EXCLUDED.price, discount_percent = EXCLUDED.discount_percent,
			delivery_price = EXCLUDED.delivery_price, stock = EXCLUDED.stock, colors = EXCLUDED.colors,
			image_thumbnail = EXCLUDED.image_thumbnail, image_mobile = EXCLUDED.image_mobile,
			image_tablet = EXCLUDED.image_tablet, image_desktop = EXCLUDED.image_desktop`

	decrementStockSQL = `UPDATE products SET stock = stock - $2
		WHERE id = $1 AND stock >= $2 RETURNING stock`
	incrementStockSQL      = `UPDATE products SET stock = stock + $2 WHERE id = $1`
	incrementOrderCountSQL = `UPDATE products SET order_count = order_count + $2 WHERE id = $1`
	getStockSQL            = `SELECT stock FROM products WHERE id = $1`
)

var _ product.Catalog = (*ProductRepository)(nil)

// ProductRepository implements product.Catalog backed by PostgreSQL.
type ProductRepository struct {
	db *DB
}

// NewProductRepository returns a ProductRepository that uses the given DB.
func NewProductRepository(db *DB) *ProductRepository {
	return &ProductRepository{db: db}
}

// List returns all products from the catalog ordered by ID.
func (r *ProductRepository) List(ctx context.Context) ([]product.Product, error) {
	rows, err := r.db.q(ctx).Query(ctx, listProductsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// GetByID returns a single product by its identifier.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*product.Product, error) {
	rows, err := r.db.q(ctx).Query(ctx, getProductByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}
	return &p, nil
}

// GetByIDs returns products matching any of the given IDs.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	rows, err := r.db.q(ctx).Query(ctx, getProductsByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting products by ids: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// Upsert inserts or replaces a product. Order counts are preserved.
func (r *ProductRepository) Upsert(ctx context.Context, p *product.Product) error {
	if err := product.ValidateDiscount(p.DiscountPercent); err != nil {
		return err
	}
	colors := p.Colors
	if colors == nil {
		colors = []product.Color{}
	}
	colorsJSON, err := json.Marshal(colors)
	if err != nil {
		return fmt.Errorf("marshaling colors: %w", err)
	}

	_, err = r.db.q(ctx).Exec(ctx, upsertProductSQL,
		p.ID, p.SellerID, p.Name, p.Category, p.Price, p.DiscountPercent, p.DeliveryPrice,
		p.Stock, p.OrderCount, colorsJSON,
		p.Image.Thumbnail, p.Image.Mobile, p.Image.Tablet, p.Image.Desktop,
	)
	if err != nil {
		return fmt.Errorf("upserting product %q: %w", p.ID, err)
	}
	return nil
}

// DecrementStock subtracts qty from the product's stock only when enough is
// available.
func (r *ProductRepository) DecrementStock(ctx context.Context, id string, qty int) error {
	var left int
	err := r.db.q(ctx).QueryRow(ctx, decrementStockSQL, id, qty).Scan(&left)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("decrementing stock of %q: %w", id, err)
	}

	var available int
	if err := r.db.q(ctx).QueryRow(ctx, getStockSQL, id).Scan(&available); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return product.ErrNotFound
		}
		return fmt.Errorf("getting stock of %q: %w", id, err)
	}
	return &product.InsufficientStockError{ProductID: id, Requested: qty, Available: available}
}

// IncrementStock adds qty back to the product's stock.
func (r *ProductRepository) IncrementStock(ctx context.Context, id string, qty int) error {
	return r.exec(ctx, incrementStockSQL, id, qty)
}

// IncrementOrderCount adds n to the product's order counter.
func (r *ProductRepository) IncrementOrderCount(ctx context.Context, id string, n int) error {
	return r.exec(ctx, incrementOrderCountSQL, id, n)
}

func (r *ProductRepository) exec(ctx context.Context, sql, id string, n int) error {
	tag, err := r.db.q(ctx).Exec(ctx, sql, id, n)
	if err != nil {
		return fmt.Errorf("updating product %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return product.ErrNotFound
	}
	return nil
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var (
		p          product.Product
		colorsJSON []byte
	)
	err := row.Scan(
		&p.ID, &p.SellerID, &p.Name, &p.Category, &p.Price, &p.DiscountPercent, &p.DeliveryPrice,
		&p.Stock, &p.OrderCount, &colorsJSON,
		&p.Image.Thumbnail, &p.Image.Mobile, &p.Image.Tablet, &p.Image.Desktop,
	)
	if err != nil {
		return p, err
	}
	if len(colorsJSON) > 0 {
		if err := json.Unmarshal(colorsJSON, &p.Colors); err != nil {
			return p, fmt.Errorf("unmarshaling colors of %q: %w", p.ID, err)
		}
	}
	return p, nil
}
