// Package product exposes the narrow catalog facet the checkout pipeline
// needs: pricing data for order snapshots and the stock counter consumed by
// the inventory ledger. Full catalog management is an external collaborator.
package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product is a catalog item as seen by the checkout pipeline.
type Product struct {
	ID       string
	Title    string
	Price    decimal.Decimal
	Category string
	Stock    int
}

// Repository defines read operations against the catalog.
type Repository interface {
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
}
