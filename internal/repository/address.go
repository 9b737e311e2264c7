package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/storefront/internal/domain/buyer"
)

const (
	saveAddressSQL = `INSERT INTO buyer_addresses (id, buyer_id, fingerprint, address, last_used_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (buyer_id, fingerprint) DO UPDATE SET
			address = EXCLUDED.address, last_used_at = EXCLUDED.last_used_at`

	listAddressesSQL = `SELECT id, address, last_used_at FROM buyer_addresses
		WHERE buyer_id = $1 ORDER BY last_used_at DESC LIMIT $2`
)

var _ buyer.AddressBook = (*AddressRepository)(nil)

// AddressRepository implements buyer.AddressBook backed by PostgreSQL.
type AddressRepository struct {
	db *DB
}

// NewAddressRepository returns an AddressRepository that uses the given DB.
func NewAddressRepository(db *DB) *AddressRepository {
	return &AddressRepository{db: db}
}

// Save records a as used at the given time. Equivalent addresses share one row.
func (r *AddressRepository) Save(ctx context.Context, buyerID string, a buyer.Address, at time.Time) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshaling address: %w", err)
	}
	_, err = r.db.q(ctx).Exec(ctx, saveAddressSQL, uuid.New().String(), buyerID, a.Fingerprint(), data, at)
	if err != nil {
		return fmt.Errorf("saving address for %q: %w", buyerID, err)
	}
	return nil
}

// ListRecent returns up to limit addresses, most recently used first.
func (r *AddressRepository) ListRecent(ctx context.Context, buyerID string, limit int) ([]buyer.SavedAddress, error) {
	rows, err := r.db.q(ctx).Query(ctx, listAddressesSQL, buyerID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing addresses: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (buyer.SavedAddress, error) {
		var (
			sa   buyer.SavedAddress
			data []byte
		)
		if err := row.Scan(&sa.ID, &data, &sa.LastUsedAt); err != nil {
			return sa, err
		}
		if err := json.Unmarshal(data, &sa.Address); err != nil {
			return sa, fmt.Errorf("unmarshaling address %q: %w", sa.ID, err)
		}
		return sa, nil
	})
}
