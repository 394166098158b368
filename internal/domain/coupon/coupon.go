// Package coupon implements campaign-scoped discount codes: rule lookup,
// eligibility gating, discount math, and the append-only usage ledger that
// is the source of truth for global and per-shopper limits.
package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	// DiscountPercentage applies a percentage of the order amount.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed applies a fixed monetary discount capped at the order amount.
	DiscountFixed DiscountType = "fixed"
)

// CustomerType gates which shoppers may use a coupon.
type CustomerType string

const (
	CustomerGeneral    CustomerType = "general"
	CustomerNew        CustomerType = "new_customer"
	CustomerSubscriber CustomerType = "subscriber"
	CustomerTopBuyer   CustomerType = "top_buyer"
)

// Validation failures, each surfaced to the shopper with its own reason.
var (
	ErrNotFound          = errors.New("coupon code not found")
	ErrExpired           = errors.New("coupon is outside its validity window")
	ErrInactive          = errors.New("coupon has been deactivated")
	ErrUsageLimitReached = errors.New("coupon usage limit reached")
	ErrPerUserLimit      = errors.New("coupon already used the maximum number of times by this shopper")
	ErrBelowMinimum      = errors.New("order amount is below the coupon minimum")
	ErrCategoryMismatch  = errors.New("coupon does not apply to the items in this order")
	ErrNotEligible       = errors.New("shopper is not eligible for this coupon")
)

// Coupon is a campaign-scoped discount definition. Usability is derived from
// the validity window and the ledger-backed counters at validation time; the
// IsActive flag is only an administrative kill switch.
type Coupon struct {
	Code               string
	DiscountType       DiscountType
	Value              decimal.Decimal
	CustomerType       CustomerType
	ValidFrom          *time.Time
	ValidUntil         *time.Time
	UsageLimit         *int
	PerUserLimit       int
	MinOrderAmount     decimal.Decimal
	AppliedCategories  []string
	ExcludedCategories []string
	UsedCount          int
	IsActive           bool
}

// Usage is one append-only ledger entry recording a spent coupon.
type Usage struct {
	Code           string
	ShopperID      string
	OrderID        string
	DiscountAmount decimal.Decimal
	UsedAt         time.Time
}

// Item is a line item as seen by the category rules.
type Item struct {
	ProductID string
	Category  string
	Quantity  int
}

// Repository provides coupon rules and the usage ledger.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	// CountShopperUsages returns how many ledger entries the shopper has for
	// the code. Limits are always counted from the ledger, never cached.
	CountShopperUsages(ctx context.Context, code, shopperID string) (int, error)
	// AppendUsage records the ledger entry and increments the counter in one
	// transaction. The increment is conditional on the usage limit: when the
	// coupon is already spent the whole entry rolls back and
	// ErrUsageLimitReached is returned, so racing checkouts cannot push
	// used_count past the limit. A repeated entry for the same order is
	// absorbed without double-counting.
	AppendUsage(ctx context.Context, u Usage) error
}

// ShopperProfile answers the customer-type eligibility questions. Backed by
// aggregate queries over order history and the newsletter subscription list.
type ShopperProfile interface {
	SuccessfulOrderCount(ctx context.Context, shopperID string) (int, error)
	IsSubscriber(ctx context.Context, email string) (bool, error)
	// TopBuyerID returns the single shopper leading by successful order
	// count, ties broken by total amount spent. Recomputed per call so the
	// answer can never go stale.
	TopBuyerID(ctx context.Context) (string, error)
}

// NormalizeCode upper-cases and trims a coupon code so lookups are
// case-insensitive.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
