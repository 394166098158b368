package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront-checkout/internal/domain/coupon"
)

const (
	successfulOrderCountSQL = `SELECT count(*) FROM orders
		WHERE shopper_id = $1 AND payment_status = 'success'`

	isSubscriberSQL = `SELECT active FROM newsletter_subscribers WHERE email = $1`

	// Aggregated live on every call. Caching the answer would let a stale
	// top buyer keep redeeming after being overtaken.
	topBuyerSQL = `SELECT shopper_id FROM orders
		WHERE payment_status = 'success' AND shopper_id IS NOT NULL
		GROUP BY shopper_id
		ORDER BY count(*) DESC, sum(total_amount) DESC, shopper_id
		LIMIT 1`

	upsertSubscriberSQL = `INSERT INTO newsletter_subscribers (email, active)
		VALUES ($1, TRUE)
		ON CONFLICT (email) DO UPDATE SET active = TRUE`
)

var _ coupon.ShopperProfile = (*ShopperRepository)(nil)

// ShopperRepository answers the shopper-profile questions coupon
// eligibility asks, from order history and the newsletter roll.
type ShopperRepository struct {
	pool *pgxpool.Pool
}

// NewShopperRepository returns a ShopperRepository that uses the given pool.
func NewShopperRepository(pool *pgxpool.Pool) *ShopperRepository {
	return &ShopperRepository{pool: pool}
}

// SuccessfulOrderCount counts the shopper's successfully paid orders.
func (r *ShopperRepository) SuccessfulOrderCount(ctx context.Context, shopperID string) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, successfulOrderCountSQL, shopperID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting successful orders of %q: %w", shopperID, err)
	}
	return n, nil
}

// IsSubscriber reports whether the email has an active newsletter entry.
func (r *ShopperRepository) IsSubscriber(ctx context.Context, email string) (bool, error) {
	var active bool
	err := r.pool.QueryRow(ctx, isSubscriberSQL, email).Scan(&active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("checking subscription of %q: %w", email, err)
	}
	return active, nil
}

// Subscribe adds or reactivates a newsletter entry. Used by seeding tools.
func (r *ShopperRepository) Subscribe(ctx context.Context, email string) error {
	if _, err := r.pool.Exec(ctx, upsertSubscriberSQL, email); err != nil {
		return fmt.Errorf("subscribing %q: %w", email, err)
	}
	return nil
}

// TopBuyerID returns the shopper leading by successful order count, ties
// broken by total spent. Empty when there are no paid orders yet.
func (r *ShopperRepository) TopBuyerID(ctx context.Context) (string, error) {
	var id string
	err := r.pool.QueryRow(ctx, topBuyerSQL).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("resolving top buyer: %w", err)
	}
	return id, nil
}
