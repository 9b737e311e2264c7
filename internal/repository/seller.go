package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/storefront/internal/domain/seller"
)

const (
	sellerColumns = `id, name, email, password_hash, created_at`

	upsertSellerSQL = `INSERT INTO sellers (` + sellerColumns + `) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, email = EXCLUDED.email, password_hash = EXCLUDED.password_hash`
	getSellerByIDSQL    = `SELECT ` + sellerColumns + ` FROM sellers WHERE id = $1`
	getSellerByEmailSQL = `SELECT ` + sellerColumns + ` FROM sellers WHERE email = $1`
)

var _ seller.Repository = (*SellerRepository)(nil)

// SellerRepository implements seller.Repository backed by PostgreSQL.
type SellerRepository struct {
	db *DB
}

// NewSellerRepository returns a SellerRepository that uses the given DB.
func NewSellerRepository(db *DB) *SellerRepository {
	return &SellerRepository{db: db}
}

// Create inserts a seller or refreshes an existing one with the same ID.
func (r *SellerRepository) Create(ctx context.Context, s *seller.Seller) error {
	_, err := r.db.q(ctx).Exec(ctx, upsertSellerSQL, s.ID, s.Name, s.Email, s.PasswordHash, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("creating seller %q: %w", s.ID, err)
	}
	return nil
}

// GetByID returns a seller by ID.
func (r *SellerRepository) GetByID(ctx context.Context, id string) (*seller.Seller, error) {
	return r.getOne(ctx, getSellerByIDSQL, id)
}

// GetByEmail returns a seller by login email.
func (r *SellerRepository) GetByEmail(ctx context.Context, email string) (*seller.Seller, error) {
	return r.getOne(ctx, getSellerByEmailSQL, email)
}

func (r *SellerRepository) getOne(ctx context.Context, sql, arg string) (*seller.Seller, error) {
	rows, err := r.db.q(ctx).Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("getting seller: %w", err)
	}
	s, err := pgx.CollectExactlyOneRow(rows, func(row pgx.CollectableRow) (seller.Seller, error) {
		var s seller.Seller
		err := row.Scan(&s.ID, &s.Name, &s.Email, &s.PasswordHash, &s.CreatedAt)
		return s, err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, seller.ErrNotFound
		}
		return nil, fmt.Errorf("getting seller: %w", err)
	}
	return &s, nil
}
