package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/storefront/internal/domain/buyer"
)

const (
	buyerColumns = `id, username, phone, password_hash, referral_code, referred_by,
		referral_coins, total_referrals, created_at`

	createBuyerSQL = `INSERT INTO buyers (` + buyerColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	getBuyerByIDSQL           = `SELECT ` + buyerColumns + ` FROM buyers WHERE id = $1`
	getBuyerByUsernameSQL     = `SELECT ` + buyerColumns + ` FROM buyers WHERE username = $1 OR phone = $1 LIMIT 1`
	getBuyerByReferralCodeSQL = `SELECT ` + buyerColumns + ` FROM buyers WHERE referral_code = $1`

	referralCodeExistsSQL      = `SELECT EXISTS (SELECT 1 FROM buyers WHERE referral_code = $1)`
	setReferralCodeSQL         = `UPDATE buyers SET referral_code = $2 WHERE id = $1 AND referral_code IS NULL`
	listReferralCodesSQL       = `SELECT referral_code FROM buyers WHERE referral_code IS NOT NULL`
	listWithoutReferralCodeSQL = `SELECT id FROM buyers WHERE referral_code IS NULL ORDER BY created_at LIMIT $1`
	buyerExistsSQL             = `SELECT EXISTS (SELECT 1 FROM buyers WHERE id = $1)`

	adjustCoinsSQL = `UPDATE buyers SET referral_coins = referral_coins + $2
		WHERE id = $1 AND referral_coins + $2 >= 0 RETURNING referral_coins`
	incrementReferralsSQL = `UPDATE buyers SET total_referrals = total_referrals + 1 WHERE id = $1`

	appendReferralHistorySQL = `INSERT INTO referral_history
		(referrer_id, referred_user, order_id, coins_earned, order_amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	referralHistorySQL = `SELECT referred_user, order_id, coins_earned, order_amount, created_at
		FROM referral_history WHERE referrer_id = $1 ORDER BY created_at DESC, id DESC`

	referralCodeConstraint = "buyers_referral_code_key"
)

var _ buyer.Ledger = (*BuyerRepository)(nil)

// BuyerRepository implements buyer.Ledger backed by PostgreSQL.
type BuyerRepository struct {
	db *DB
}

// NewBuyerRepository returns a BuyerRepository that uses the given DB.
func NewBuyerRepository(db *DB) *BuyerRepository {
	return &BuyerRepository{db: db}
}

// Create inserts a buyer. Username and phone collisions yield buyer.ErrAlreadyExists.
func (r *BuyerRepository) Create(ctx context.Context, b *buyer.Buyer) error {
	_, err := r.db.q(ctx).Exec(ctx, createBuyerSQL,
		b.ID, b.Username, b.Phone, b.PasswordHash, nullString(b.ReferralCode), nullString(b.ReferredBy),
		b.ReferralCoins, b.TotalReferrals, b.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, referralCodeConstraint) {
			return buyer.ErrReferralCodeTaken
		}
		if isUniqueViolation(err, "") {
			return buyer.ErrAlreadyExists
		}
		return fmt.Errorf("creating buyer %q: %w", b.Username, err)
	}
	return nil
}

// GetByID returns a buyer by ID.
func (r *BuyerRepository) GetByID(ctx context.Context, id string) (*buyer.Buyer, error) {
	return r.getOne(ctx, getBuyerByIDSQL, id)
}

// GetByUsername returns a buyer whose username or phone equals username.
func (r *BuyerRepository) GetByUsername(ctx context.Context, username string) (*buyer.Buyer, error) {
	return r.getOne(ctx, getBuyerByUsernameSQL, username)
}

// GetByReferralCode returns the buyer holding code.
func (r *BuyerRepository) GetByReferralCode(ctx context.Context, code string) (*buyer.Buyer, error) {
	return r.getOne(ctx, getBuyerByReferralCodeSQL, code)
}

func (r *BuyerRepository) getOne(ctx context.Context, sql, arg string) (*buyer.Buyer, error) {
	rows, err := r.db.q(ctx).Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("getting buyer: %w", err)
	}
	b, err := pgx.CollectExactlyOneRow(rows, scanBuyer)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, buyer.ErrNotFound
		}
		return nil, fmt.Errorf("getting buyer: %w", err)
	}
	return &b, nil
}

// ReferralCodeExists reports whether any buyer holds code.
func (r *BuyerRepository) ReferralCodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	if err := r.db.q(ctx).QueryRow(ctx, referralCodeExistsSQL, code).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking referral code: %w", err)
	}
	return exists, nil
}

// SetReferralCode stores code for a buyer without one. A buyer that already
// holds a code keeps it; callers re-read the buyer for the stored value.
func (r *BuyerRepository) SetReferralCode(ctx context.Context, id, code string) error {
	tag, err := r.db.q(ctx).Exec(ctx, setReferralCodeSQL, id, code)
	if err != nil {
		if isUniqueViolation(err, "") {
			return buyer.ErrReferralCodeTaken
		}
		return fmt.Errorf("setting referral code for %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return r.ensureExists(ctx, id)
	}
	return nil
}

// ListReferralCodes returns every issued referral code.
func (r *BuyerRepository) ListReferralCodes(ctx context.Context) ([]string, error) {
	rows, err := r.db.q(ctx).Query(ctx, listReferralCodesSQL)
	if err != nil {
		return nil, fmt.Errorf("listing referral codes: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// ListWithoutReferralCode returns up to limit IDs of buyers that were never issued a code.
func (r *BuyerRepository) ListWithoutReferralCode(ctx context.Context, limit int) ([]string, error) {
	rows, err := r.db.q(ctx).Query(ctx, listWithoutReferralCodeSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("listing buyers without referral code: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// AdjustCoins applies delta to the coin balance unless the result would be negative.
func (r *BuyerRepository) AdjustCoins(ctx context.Context, id string, delta int64) (int64, error) {
	var balance int64
	err := r.db.q(ctx).QueryRow(ctx, adjustCoinsSQL, id, delta).Scan(&balance)
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("adjusting coins of %q: %w", id, err)
	}
	if err := r.ensureExists(ctx, id); err != nil {
		return 0, err
	}
	return 0, buyer.ErrInsufficientCoins
}

// IncrementReferrals bumps the buyer's referral counter.
func (r *BuyerRepository) IncrementReferrals(ctx context.Context, id string) error {
	tag, err := r.db.q(ctx).Exec(ctx, incrementReferralsSQL, id)
	if err != nil {
		return fmt.Errorf("incrementing referrals of %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return buyer.ErrNotFound
	}
	return nil
}

// AppendReferralHistory records a reward event. Each order can be rewarded once.
func (r *BuyerRepository) AppendReferralHistory(ctx context.Context, referrerID string, e buyer.ReferralEntry) error {
	_, err := r.db.q(ctx).Exec(ctx, appendReferralHistorySQL,
		referrerID, e.ReferredUser, e.OrderID, e.CoinsEarned, e.OrderAmount, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("appending referral history for %q: %w", referrerID, err)
	}
	return nil
}

// ReferralHistory returns reward events for a referrer, newest first.
func (r *BuyerRepository) ReferralHistory(ctx context.Context, id string) ([]buyer.ReferralEntry, error) {
	rows, err := r.db.q(ctx).Query(ctx, referralHistorySQL, id)
	if err != nil {
		return nil, fmt.Errorf("listing referral history: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (buyer.ReferralEntry, error) {
		var e buyer.ReferralEntry
		err := row.Scan(&e.ReferredUser, &e.OrderID, &e.CoinsEarned, &e.OrderAmount, &e.CreatedAt)
		return e, err
	})
}

func (r *BuyerRepository) ensureExists(ctx context.Context, id string) error {
	var exists bool
	if err := r.db.q(ctx).QueryRow(ctx, buyerExistsSQL, id).Scan(&exists); err != nil {
		return fmt.Errorf("checking buyer %q: %w", id, err)
	}
	if !exists {
		return buyer.ErrNotFound
	}
	return nil
}

func scanBuyer(row pgx.CollectableRow) (buyer.Buyer, error) {
	var (
		b            buyer.Buyer
		referralCode *string
		referredBy   *string
	)
	err := row.Scan(
		&b.ID, &b.Username, &b.Phone, &b.PasswordHash, &referralCode, &referredBy,
		&b.ReferralCoins, &b.TotalReferrals, &b.CreatedAt,
	)
	b.ReferralCode = derefString(referralCode)
	b.ReferredBy = derefString(referredBy)
	return b, err
}
