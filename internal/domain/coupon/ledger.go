package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ValidateRequest carries everything the ledger needs to judge a coupon
// against one prospective order.
type ValidateRequest struct {
	Code         string
	ShopperID    string
	ShopperEmail string
	OrderAmount  decimal.Decimal
	Items        []Item
}

// Ledger validates coupons and records their usage. Validation reads the
// rule and the ledger-backed counters; CommitUsage appends to the ledger.
// A coupon is spent at order placement, not at payment confirmation, so
// confirmation never re-validates.
type Ledger struct {
	repo     Repository
	shoppers ShopperProfile
	now      func() time.Time
}

// NewLedger creates a Ledger backed by the given repository and shopper
// profile source.
func NewLedger(repo Repository, shoppers ShopperProfile) *Ledger {
	return &Ledger{repo: repo, shoppers: shoppers, now: time.Now}
}

// Validate checks a coupon code against eligibility, limits and category
// rules and returns the computed discount with the matched coupon. Each
// rejection reason maps to its own sentinel error.
func (l *Ledger) Validate(ctx context.Context, req ValidateRequest) (decimal.Decimal, *Coupon, error) {
	c, err := l.repo.FindByCode(ctx, NormalizeCode(req.Code))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return decimal.Zero, nil, ErrNotFound
		}
		return decimal.Zero, nil, errors.Wrap(err, "lookup coupon")
	}

	if !c.IsActive {
		return decimal.Zero, nil, ErrInactive
	}

	now := l.now()
	if c.ValidFrom != nil && now.Before(*c.ValidFrom) {
		return decimal.Zero, nil, ErrExpired
	}
	if c.ValidUntil != nil && now.After(*c.ValidUntil) {
		return decimal.Zero, nil, ErrExpired
	}

	if c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit {
		return decimal.Zero, nil, ErrUsageLimitReached
	}

	if req.OrderAmount.LessThan(c.MinOrderAmount) {
		return decimal.Zero, nil, ErrBelowMinimum
	}

	if c.PerUserLimit > 0 && req.ShopperID != "" {
		used, err := l.repo.CountShopperUsages(ctx, c.Code, req.ShopperID)
		if err != nil {
			return decimal.Zero, nil, errors.Wrap(err, "count shopper usages")
		}
		if used >= c.PerUserLimit {
			return decimal.Zero, nil, ErrPerUserLimit
		}
	}

	if !matchesCategories(c, req.Items) {
		return decimal.Zero, nil, ErrCategoryMismatch
	}

	if err := l.checkEligibility(ctx, c, req); err != nil {
		return decimal.Zero, nil, err
	}

	discount, err := ComputeDiscount(c, req.OrderAmount)
	if err != nil {
		return decimal.Zero, nil, err
	}

	return discount, c, nil
}

// CommitUsage appends the usage ledger entry for an order. Called at most
// once per order, only from the order lifecycle's creation step; the
// repository enforces uniqueness per (code, order).
func (l *Ledger) CommitUsage(ctx context.Context, c *Coupon, shopperID, orderID string, discount decimal.Decimal) error {
	err := l.repo.AppendUsage(ctx, Usage{
		Code:           c.Code,
		ShopperID:      shopperID,
		OrderID:        orderID,
		DiscountAmount: discount,
		UsedAt:         l.now(),
	})
	if err != nil {
		return errors.Wrap(err, "append coupon usage")
	}
	return nil
}

// checkEligibility gates the coupon by the shopper's customer type.
// Scoped coupons require an identified shopper: guests only qualify for
// general campaigns.
func (l *Ledger) checkEligibility(ctx context.Context, c *Coupon, req ValidateRequest) error {
	switch c.CustomerType {
	case CustomerGeneral, "":
		return nil
	case CustomerNew:
		if req.ShopperID == "" {
			return ErrNotEligible
		}
		n, err := l.shoppers.SuccessfulOrderCount(ctx, req.ShopperID)
		if err != nil {
			return errors.Wrap(err, "count successful orders")
		}
		if n > 0 {
			return ErrNotEligible
		}
		return nil
	case CustomerSubscriber:
		if req.ShopperEmail == "" {
			return ErrNotEligible
		}
		ok, err := l.shoppers.IsSubscriber(ctx, req.ShopperEmail)
		if err != nil {
			return errors.Wrap(err, "check subscription")
		}
		if !ok {
			return ErrNotEligible
		}
		return nil
	case CustomerTopBuyer:
		if req.ShopperID == "" {
			return ErrNotEligible
		}
		top, err := l.shoppers.TopBuyerID(ctx)
		if err != nil {
			return errors.Wrap(err, "resolve top buyer")
		}
		if top != req.ShopperID {
			return ErrNotEligible
		}
		return nil
	default:
		return errors.Errorf("unsupported customer type: %q", c.CustomerType)
	}
}
