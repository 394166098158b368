package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-checkout/internal/domain/coupon"
)

const (
	getCouponByCodeSQL = `SELECT code, discount_type, value, customer_type,
			valid_from, valid_until, usage_limit, per_user_limit, min_order_amount,
			applied_categories, excluded_categories, used_count, is_active
		FROM coupons WHERE UPPER(code) = UPPER($1)`

	countShopperUsagesSQL = `SELECT count(*) FROM coupon_usages
		WHERE code = $1 AND shopper_id = $2`

	appendUsageSQL = `INSERT INTO coupon_usages (code, shopper_id, order_id, discount_amount, used_at)
		VALUES ($1, $2, $3, $4, $5)`

	// The increment carries the limit guard so racing commits cannot push
	// used_count past usage_limit; losers see zero rows affected.
	incrementUsedCountSQL = `UPDATE coupons SET used_count = used_count + 1, updated_at = now()
		WHERE code = $1 AND (usage_limit IS NULL OR used_count < usage_limit)`

	upsertCouponSQL = `INSERT INTO coupons (
			code, discount_type, value, customer_type, valid_from, valid_until,
			usage_limit, per_user_limit, min_order_amount,
			applied_categories, excluded_categories, is_active
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (code) DO UPDATE SET
			discount_type = EXCLUDED.discount_type,
			value = EXCLUDED.value,
			customer_type = EXCLUDED.customer_type,
			valid_from = EXCLUDED.valid_from,
			valid_until = EXCLUDED.valid_until,
			usage_limit = EXCLUDED.usage_limit,
			per_user_limit = EXCLUDED.per_user_limit,
			min_order_amount = EXCLUDED.min_order_amount,
			applied_categories = EXCLUDED.applied_categories,
			excluded_categories = EXCLUDED.excluded_categories,
			is_active = EXCLUDED.is_active,
			updated_at = now()`
)

// uniqueViolation is the PostgreSQL error code for a unique constraint hit.
const uniqueViolation = "23505"

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode looks up a coupon by its code (case-insensitive). Returns
// coupon.ErrNotFound when no such coupon exists; activity and validity
// windows are judged by the ledger, not here.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, getCouponByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}
	return &c, nil
}

// CountShopperUsages counts how many times a shopper has used a coupon.
func (r *CouponRepository) CountShopperUsages(ctx context.Context, code, shopperID string) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, countShopperUsagesSQL, code, shopperID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting usages of coupon %q: %w", code, err)
	}
	return n, nil
}

// AppendUsage records one usage and bumps the coupon's global counter in a
// single transaction. The counter update is conditional on the usage limit,
// so the commit is the arbiter when checkouts race on the last remaining
// use: the loser's transaction rolls back, usage row included, and the
// caller gets coupon.ErrUsageLimitReached. A duplicate (code, order) pair
// is treated as an already-applied retry and absorbed.
func (r *CouponRepository) AppendUsage(ctx context.Context, u coupon.Usage) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning usage transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, appendUsageSQL, u.Code, u.ShopperID, u.OrderID, u.DiscountAmount, u.UsedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil
		}
		return fmt.Errorf("appending usage of coupon %q: %w", u.Code, err)
	}

	tag, err := tx.Exec(ctx, incrementUsedCountSQL, u.Code)
	if err != nil {
		return fmt.Errorf("incrementing used count of coupon %q: %w", u.Code, err)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrUsageLimitReached
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing usage of coupon %q: %w", u.Code, err)
	}
	return nil
}

// Upsert inserts or refreshes one coupon. Usage counters are never
// touched: they belong to the ledger. Used by seeding and ingest tools.
func (r *CouponRepository) Upsert(ctx context.Context, c coupon.Coupon) error {
	var usageLimit *int32
	if c.UsageLimit != nil {
		v := int32(*c.UsageLimit)
		usageLimit = &v
	}
	_, err := r.pool.Exec(ctx, upsertCouponSQL,
		c.Code, string(c.DiscountType), c.Value, string(c.CustomerType),
		c.ValidFrom, c.ValidUntil, usageLimit, int32(c.PerUserLimit),
		c.MinOrderAmount, c.AppliedCategories, c.ExcludedCategories, c.IsActive,
	)
	if err != nil {
		return fmt.Errorf("upserting coupon %q: %w", c.Code, err)
	}
	return nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c            coupon.Coupon
		discountType string
		customerType string
		validFrom    *time.Time
		validUntil   *time.Time
		usageLimit   *int32
		perUserLimit int32
		minAmount    decimal.Decimal
		usedCount    int32
	)
	err := row.Scan(
		&c.Code, &discountType, &c.Value, &customerType,
		&validFrom, &validUntil, &usageLimit, &perUserLimit, &minAmount,
		&c.AppliedCategories, &c.ExcludedCategories, &usedCount, &c.IsActive,
	)
	c.DiscountType = coupon.DiscountType(discountType)
	c.CustomerType = coupon.CustomerType(customerType)
	c.ValidFrom = validFrom
	c.ValidUntil = validUntil
	if usageLimit != nil {
		limit := int(*usageLimit)
		c.UsageLimit = &limit
	}
	c.PerUserLimit = int(perUserLimit)
	c.MinOrderAmount = minAmount
	c.UsedCount = int(usedCount)
	return c, err
}
