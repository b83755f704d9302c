package promo

import "time"

const (
	TypePercent = "percent"
	TypeFlat    = "flat"
)

type Promo struct {
	ID   string `json:"id"`
	Code string `json:"code"`
	// Type is "percent" or "flat".
	Type string `json:"type"`
	// Value and the other amounts are NUMERIC -> string, same as product prices.
	Value         string     `json:"value"`
	MinOrderValue string     `json:"min_order_value"`
	MaxDiscount   string     `json:"max_discount"`
	Active        bool       `json:"active"`
	StartsAt      *time.Time `json:"starts_at,omitempty"`
	EndsAt        *time.Time `json:"ends_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// CreatePromoRequest payload for admin promo creation.
type CreatePromoRequest struct {
	Code          string     `json:"code"`
	Type          string     `json:"type"`
	Value         string     `json:"value"`
	MinOrderValue string     `json:"min_order_value"`
	MaxDiscount   string     `json:"max_discount"`
	Active        *bool      `json:"active"`
	StartsAt      *time.Time `json:"starts_at"`
	EndsAt        *time.Time `json:"ends_at"`
}
