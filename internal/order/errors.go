package order

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound               = errors.New("order not found")
	ErrInvalidInput           = errors.New("invalid order input")
	ErrInvalidTransition      = errors.New("invalid status transition")
	ErrAlreadyCancelled       = errors.New("order already cancelled")
	ErrNotOwner               = errors.New("not authorized for this order")
	ErrReturnAlreadyRequested = errors.New("return already requested")
	ErrCommitFailed           = errors.New("order commit failed")
	ErrRestorationFailed      = errors.New("stock restoration failed")
)

// Shortage names one product that could not cover the requested quantity.
// Available is 0 when the product does not exist.
type Shortage struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name,omitempty"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
	Missing   bool   `json:"missing,omitempty"`
}

// InsufficientStockError aggregates every failing line item so the caller
// gets the complete picture in one round trip.
type InsufficientStockError struct {
	Shortages []Shortage
}

func (e *InsufficientStockError) Error() string {
	parts := make([]string, 0, len(e.Shortages))
	for _, s := range e.Shortages {
		if s.Missing {
			parts = append(parts, fmt.Sprintf("product not found: %s", s.ProductID))
			continue
		}
		name := s.Name
		if name == "" {
			name = s.ProductID
		}
		parts = append(parts, fmt.Sprintf("%s has only %d in stock", name, s.Available))
	}
	return strings.Join(parts, " | ")
}
