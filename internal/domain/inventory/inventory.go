// Package inventory defines the stock commitment contract for confirmed
// orders.
package inventory

import (
	"context"
	"fmt"
)

// Reservation is one line item's stock requirement.
type Reservation struct {
	ProductID string
	Quantity  int
}

// InsufficientStockError reports the first product that could not cover the
// requested quantity. The whole commit is rolled back when it is returned.
type InsufficientStockError struct {
	ProductID string
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s (requested %d)", e.ProductID, e.Requested)
}

// Ledger decrements stock for a confirmed order. CommitReservation must be
// atomic across all items and is invoked at most once per order; the order
// lifecycle's payment claim guarantees the at-most-once property.
type Ledger interface {
	CommitReservation(ctx context.Context, orderID string, items []Reservation) error
}
