package promo

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidPromo  = errors.New("invalid promo code")
	ErrNotYetActive  = errors.New("promo code not active yet")
	ErrExpired       = errors.New("promo code expired")
	ErrMinimumNotMet = errors.New("order total does not meet promo requirements")
)

// Discount applies the promo's eligibility rules against the computed items
// price and returns the discount amount. It is a pure check: usage counters,
// if ever added, belong in the reservation transaction, not here.
func Discount(p *Promo, itemsPrice decimal.Decimal, now time.Time) (decimal.Decimal, error) {
	if p == nil || !p.Active {
		return decimal.Zero, ErrInvalidPromo
	}
	if p.StartsAt != nil && now.Before(*p.StartsAt) {
		return decimal.Zero, ErrNotYetActive
	}
	if p.EndsAt != nil && now.After(*p.EndsAt) {
		return decimal.Zero, ErrExpired
	}

	minOrder, err := decimal.NewFromString(p.MinOrderValue)
	if err != nil {
		minOrder = decimal.Zero
	}
	if itemsPrice.LessThan(minOrder) {
		return decimal.Zero, ErrMinimumNotMet
	}

	value, err := decimal.NewFromString(p.Value)
	if err != nil {
		return decimal.Zero, ErrInvalidPromo
	}

	var discount decimal.Decimal
	if p.Type == TypePercent {
		discount = itemsPrice.Mul(value).Div(decimal.NewFromInt(100))
	} else {
		discount = value
	}

	maxDiscount, err := decimal.NewFromString(p.MaxDiscount)
	if err == nil && maxDiscount.IsPositive() && discount.GreaterThan(maxDiscount) {
		discount = maxDiscount
	}

	// Discount never exceeds the items price and never goes negative.
	if discount.GreaterThan(itemsPrice) {
		discount = itemsPrice
	}
	if discount.IsNegative() {
		discount = decimal.Zero
	}
	return discount, nil
}
