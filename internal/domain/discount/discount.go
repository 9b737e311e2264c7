// Package discount converts referral coins into a bounded order discount.
package discount

import "github.com/shopspring/decimal"

var (
	// DefaultCoinRate is the currency value of a single referral coin.
	DefaultCoinRate = decimal.RequireFromString("0.02")
	// DefaultMaxRatio caps the discount at this share of the subtotal.
	DefaultMaxRatio = decimal.RequireFromString("0.10")
)

// Policy holds the coin conversion parameters.
type Policy struct {
	CoinRate decimal.Decimal
	MaxRatio decimal.Decimal
}

// DefaultPolicy returns the standard 0.02-per-coin, 10%-cap policy.
func DefaultPolicy() Policy {
	return Policy{CoinRate: DefaultCoinRate, MaxRatio: DefaultMaxRatio}
}

// Result is the outcome of a discount calculation.
type Result struct {
	// MaxDiscount is floor(subtotal * MaxRatio).
	MaxDiscount decimal.Decimal
	// CoinValue is the currency value of every available coin.
	CoinValue decimal.Decimal
	// Discount is min(MaxDiscount, CoinValue).
	Discount decimal.Decimal
	// CoinsUsed is ceil(Discount / CoinRate).
	CoinsUsed int64
	// CoinRate is the rate the calculation used.
	CoinRate decimal.Decimal
}

// Calculate computes the discount a buyer holding coins can apply to subtotal.
// Coins used are rounded up so the discount never exceeds the value of the
// coins consumed. It does not touch any balance.
func (p Policy) Calculate(coins int64, subtotal decimal.Decimal) Result {
	res := Result{
		MaxDiscount: decimal.Zero,
		CoinValue:   decimal.Zero,
		Discount:    decimal.Zero,
		CoinRate:    p.CoinRate,
	}
	if coins <= 0 || !subtotal.IsPositive() || !p.CoinRate.IsPositive() {
		return res
	}

	res.MaxDiscount = subtotal.Mul(p.MaxRatio).Floor()
	res.CoinValue = decimal.NewFromInt(coins).Mul(p.CoinRate)
	res.Discount = decimal.Min(res.MaxDiscount, res.CoinValue)
	if !res.Discount.IsPositive() {
		res.Discount = decimal.Zero
		return res
	}

	res.CoinsUsed = res.Discount.Div(p.CoinRate).Ceil().IntPart()
	return res
}

// Calculate applies DefaultPolicy.
func Calculate(coins int64, subtotal decimal.Decimal) Result {
	return DefaultPolicy().Calculate(coins, subtotal)
}
