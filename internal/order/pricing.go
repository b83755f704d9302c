package order

import (
	"github.com/shopspring/decimal"
)

// PricingConfig carries the server-side tax and shipping knobs. TaxRate is a
// percentage of the items price, ShippingFlat a fixed amount per order.
type PricingConfig struct {
	TaxRate      decimal.Decimal
	ShippingFlat decimal.Decimal
}

// Quote is the itemized price derivation for a cart. All amounts are rounded
// to 2 decimal places when the order is materialized.
type Quote struct {
	ItemsPrice     decimal.Decimal
	TaxPrice       decimal.Decimal
	ShippingPrice  decimal.Decimal
	DiscountAmount decimal.Decimal
}

// ComputeQuote derives items/tax/shipping prices from resolved line items.
// Pure function: negative configuration values floor at 0.
func ComputeQuote(items []Item, cfg PricingConfig) Quote {
	itemsPrice := decimal.Zero
	for _, it := range items {
		unit, err := decimal.NewFromString(it.Price)
		if err != nil {
			continue
		}
		itemsPrice = itemsPrice.Add(unit.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}

	taxRate := cfg.TaxRate
	if taxRate.IsNegative() {
		taxRate = decimal.Zero
	}
	shipping := cfg.ShippingFlat
	if shipping.IsNegative() {
		shipping = decimal.Zero
	}

	return Quote{
		ItemsPrice:    itemsPrice,
		TaxPrice:      itemsPrice.Mul(taxRate).Div(decimal.NewFromInt(100)),
		ShippingPrice: shipping,
	}
}

// Total enforces the pricing invariant:
// total = items + tax + shipping - discount.
func (q Quote) Total() decimal.Decimal {
	return q.ItemsPrice.Add(q.TaxPrice).Add(q.ShippingPrice).Sub(q.DiscountAmount)
}

// Apply writes the rounded amounts onto the order record.
func (q Quote) Apply(o *Order) {
	o.ItemsPrice = q.ItemsPrice.StringFixed(2)
	o.TaxPrice = q.TaxPrice.StringFixed(2)
	o.ShippingPrice = q.ShippingPrice.StringFixed(2)
	o.DiscountAmount = q.DiscountAmount.StringFixed(2)
	o.TotalPrice = q.Total().StringFixed(2)
}
