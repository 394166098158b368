package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront-checkout/internal/domain/inventory"
)

const decrementStockSQL = `UPDATE products SET stock = stock - $2, updated_at = now()
	WHERE id = $1 AND stock >= $2`

var _ inventory.Ledger = (*InventoryRepository)(nil)

// InventoryRepository implements inventory.Ledger backed by PostgreSQL.
type InventoryRepository struct {
	pool *pgxpool.Pool
}

// NewInventoryRepository returns an InventoryRepository that uses the
// given pool.
func NewInventoryRepository(pool *pgxpool.Pool) *InventoryRepository {
	return &InventoryRepository{pool: pool}
}

// CommitReservation decrements stock for every line of an order inside one
// transaction. Each decrement is conditional on sufficient stock, so the
// commit either applies fully or rolls back without touching any row.
func (r *InventoryRepository) CommitReservation(ctx context.Context, orderID string, items []inventory.Reservation) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning inventory transaction for order %q: %w", orderID, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, it := range items {
		tag, err := tx.Exec(ctx, decrementStockSQL, it.ProductID, it.Quantity)
		if err != nil {
			return fmt.Errorf("decrementing stock of %q for order %q: %w", it.ProductID, orderID, err)
		}
		if tag.RowsAffected() == 0 {
			return &inventory.InsufficientStockError{
				ProductID: it.ProductID,
				Requested: it.Quantity,
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing inventory for order %q: %w", orderID, err)
	}
	return nil
}
