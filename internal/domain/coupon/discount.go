package coupon

import (
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ComputeDiscount calculates the discount a coupon grants on an order
// amount. The result never exceeds the order amount: a 150% percentage
// coupon on 500 yields 500, and a fixed coupon larger than the order is
// capped at the order amount.
func ComputeDiscount(c *Coupon, orderAmount decimal.Decimal) (decimal.Decimal, error) {
	switch c.DiscountType {
	case DiscountPercentage:
		amount := orderAmount.Mul(c.Value).Div(hundred)
		return capAt(amount, orderAmount), nil
	case DiscountFixed:
		return capAt(c.Value, orderAmount), nil
	default:
		return decimal.Zero, errors.Errorf("unsupported discount type: %q", c.DiscountType)
	}
}

func capAt(amount, limit decimal.Decimal) decimal.Decimal {
	if amount.IsNegative() {
		return decimal.Zero
	}
	return decimal.Min(amount, limit).Round(2)
}

// matchesCategories checks the coupon's category rules against the order's
// line items: at least one item in an applied category when an allow-list is
// set, and no item in an excluded category.
func matchesCategories(c *Coupon, items []Item) bool {
	if len(c.AppliedCategories) > 0 {
		found := false
		for _, item := range items {
			if containsFold(c.AppliedCategories, item.Category) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	for _, item := range items {
		if containsFold(c.ExcludedCategories, item.Category) {
			return false
		}
	}

	return true
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
