package coupon

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mock implementations ---

type mockCouponRepo struct {
	coupon       *Coupon
	findErr      error
	shopperUsage int
	usages       []Usage
	appendErr    error
}

func (m *mockCouponRepo) FindByCode(_ context.Context, _ string) (*Coupon, error) {
	return m.coupon, m.findErr
}

func (m *mockCouponRepo) CountShopperUsages(_ context.Context, _, _ string) (int, error) {
	return m.shopperUsage, nil
}

func (m *mockCouponRepo) AppendUsage(_ context.Context, u Usage) error {
	if m.appendErr != nil {
		return m.appendErr
	}
	m.usages = append(m.usages, u)
	return nil
}

type mockShopperProfile struct {
	successOrders int
	subscriber    bool
	topBuyer      string
}

func (m *mockShopperProfile) SuccessfulOrderCount(_ context.Context, _ string) (int, error) {
	return m.successOrders, nil
}

func (m *mockShopperProfile) IsSubscriber(_ context.Context, _ string) (bool, error) {
	return m.subscriber, nil
}

func (m *mockShopperProfile) TopBuyerID(_ context.Context) (string, error) {
	return m.topBuyer, nil
}

// --- Helpers ---

var fixedNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func newLedger(repo Repository, shoppers ShopperProfile) *Ledger {
	l := NewLedger(repo, shoppers)
	l.now = func() time.Time { return fixedNow }
	return l
}

func activeCoupon() *Coupon {
	return &Coupon{
		Code:         "SAVE10",
		DiscountType: DiscountPercentage,
		Value:        decimal.NewFromInt(10),
		CustomerType: CustomerGeneral,
		IsActive:     true,
	}
}

func validateReq(amount int64) ValidateRequest {
	return ValidateRequest{
		Code:         "save10",
		ShopperID:    "s1",
		ShopperEmail: "s1@example.com",
		OrderAmount:  decimal.NewFromInt(amount),
	}
}

// --- Tests ---

func TestValidate_HappyPath(t *testing.T) {
	repo := &mockCouponRepo{coupon: activeCoupon()}
	l := newLedger(repo, &mockShopperProfile{})

	discount, c, err := l.Validate(context.Background(), validateReq(200))
	require.NoError(t, err)
	assert.Equal(t, "SAVE10", c.Code)
	assert.True(t, decimal.NewFromInt(20).Equal(discount))
}

func TestValidate_UnknownCode(t *testing.T) {
	repo := &mockCouponRepo{findErr: ErrNotFound}
	l := newLedger(repo, &mockShopperProfile{})

	_, _, err := l.Validate(context.Background(), validateReq(200))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestValidate_Window(t *testing.T) {
	past := fixedNow.Add(-48 * time.Hour)
	future := fixedNow.Add(48 * time.Hour)

	tests := []struct {
		name    string
		from    *time.Time
		until   *time.Time
		wantErr error
	}{
		{name: "not yet valid", from: &future, wantErr: ErrExpired},
		{name: "already expired", until: &past, wantErr: ErrExpired},
		{name: "inside window", from: &past, until: &future},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := activeCoupon()
			c.ValidFrom = tt.from
			c.ValidUntil = tt.until
			l := newLedger(&mockCouponRepo{coupon: c}, &mockShopperProfile{})

			_, _, err := l.Validate(context.Background(), validateReq(200))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestValidate_Inactive(t *testing.T) {
	c := activeCoupon()
	c.IsActive = false
	l := newLedger(&mockCouponRepo{coupon: c}, &mockShopperProfile{})

	_, _, err := l.Validate(context.Background(), validateReq(200))
	require.ErrorIs(t, err, ErrInactive)
}

func TestValidate_GlobalLimit(t *testing.T) {
	limit := 5
	c := activeCoupon()
	c.UsageLimit = &limit
	c.UsedCount = 5
	l := newLedger(&mockCouponRepo{coupon: c}, &mockShopperProfile{})

	_, _, err := l.Validate(context.Background(), validateReq(200))
	require.ErrorIs(t, err, ErrUsageLimitReached)
}

// limitedCouponRepo mirrors the storage contract: the counter increment is
// guarded by the usage limit inside the commit, not by the earlier read.
type limitedCouponRepo struct {
	coupon *Coupon
	usages []Usage
}

func (m *limitedCouponRepo) FindByCode(_ context.Context, _ string) (*Coupon, error) {
	cp := *m.coupon
	return &cp, nil
}

func (m *limitedCouponRepo) CountShopperUsages(_ context.Context, _, _ string) (int, error) {
	return 0, nil
}

func (m *limitedCouponRepo) AppendUsage(_ context.Context, u Usage) error {
	if m.coupon.UsageLimit != nil && m.coupon.UsedCount >= *m.coupon.UsageLimit {
		return ErrUsageLimitReached
	}
	m.coupon.UsedCount++
	m.usages = append(m.usages, u)
	return nil
}

func TestGlobalLimit_RacingCommits(t *testing.T) {
	limit := 5
	c := activeCoupon()
	c.UsageLimit = &limit
	c.UsedCount = 4
	repo := &limitedCouponRepo{coupon: c}
	l := newLedger(repo, &mockShopperProfile{})

	// Two checkouts validate against the same one-use-left snapshot; both
	// pass the read-side check.
	d1, c1, err := l.Validate(context.Background(), validateReq(200))
	require.NoError(t, err)
	d2, c2, err := l.Validate(context.Background(), validateReq(200))
	require.NoError(t, err)

	// Only the first commit lands; the second hits the conditional
	// increment and the counter never passes the limit.
	require.NoError(t, l.CommitUsage(context.Background(), c1, "s1", "o1", d1))
	err = l.CommitUsage(context.Background(), c2, "s2", "o2", d2)
	require.ErrorIs(t, err, ErrUsageLimitReached)

	assert.Equal(t, limit, repo.coupon.UsedCount)
	require.Len(t, repo.usages, 1)
	assert.Equal(t, "o1", repo.usages[0].OrderID)
}

func TestValidate_MinimumOrderAmount(t *testing.T) {
	c := activeCoupon()
	c.MinOrderAmount = decimal.NewFromInt(1000)
	l := newLedger(&mockCouponRepo{coupon: c}, &mockShopperProfile{})

	_, _, err := l.Validate(context.Background(), validateReq(999))
	require.ErrorIs(t, err, ErrBelowMinimum)

	_, _, err = l.Validate(context.Background(), validateReq(1000))
	require.NoError(t, err)
}

func TestValidate_PerShopperLimit(t *testing.T) {
	c := activeCoupon()
	c.PerUserLimit = 2
	repo := &mockCouponRepo{coupon: c, shopperUsage: 2}
	l := newLedger(repo, &mockShopperProfile{})

	_, _, err := l.Validate(context.Background(), validateReq(200))
	require.ErrorIs(t, err, ErrPerUserLimit)
}

func TestValidate_CategoryMismatch(t *testing.T) {
	c := activeCoupon()
	c.AppliedCategories = []string{"shoes"}
	l := newLedger(&mockCouponRepo{coupon: c}, &mockShopperProfile{})

	req := validateReq(200)
	req.Items = []Item{{ProductID: "p1", Category: "hats"}}

	_, _, err := l.Validate(context.Background(), req)
	require.ErrorIs(t, err, ErrCategoryMismatch)
}

func TestValidate_NewCustomerEligibility(t *testing.T) {
	c := activeCoupon()
	c.CustomerType = CustomerNew

	t.Run("zero successful orders accepted", func(t *testing.T) {
		l := newLedger(&mockCouponRepo{coupon: c}, &mockShopperProfile{successOrders: 0})
		_, _, err := l.Validate(context.Background(), validateReq(200))
		require.NoError(t, err)
	})

	t.Run("one successful order rejected", func(t *testing.T) {
		l := newLedger(&mockCouponRepo{coupon: c}, &mockShopperProfile{successOrders: 1})
		_, _, err := l.Validate(context.Background(), validateReq(200))
		require.ErrorIs(t, err, ErrNotEligible)
	})
}

func TestValidate_SubscriberEligibility(t *testing.T) {
	c := activeCoupon()
	c.CustomerType = CustomerSubscriber

	l := newLedger(&mockCouponRepo{coupon: c}, &mockShopperProfile{subscriber: false})
	_, _, err := l.Validate(context.Background(), validateReq(200))
	require.ErrorIs(t, err, ErrNotEligible)

	l = newLedger(&mockCouponRepo{coupon: c}, &mockShopperProfile{subscriber: true})
	_, _, err = l.Validate(context.Background(), validateReq(200))
	require.NoError(t, err)
}

func TestValidate_TopBuyerEligibility(t *testing.T) {
	c := activeCoupon()
	c.CustomerType = CustomerTopBuyer

	l := newLedger(&mockCouponRepo{coupon: c}, &mockShopperProfile{topBuyer: "someone-else"})
	_, _, err := l.Validate(context.Background(), validateReq(200))
	require.ErrorIs(t, err, ErrNotEligible)

	l = newLedger(&mockCouponRepo{coupon: c}, &mockShopperProfile{topBuyer: "s1"})
	_, _, err = l.Validate(context.Background(), validateReq(200))
	require.NoError(t, err)
}

func TestValidate_GuestScopedCoupon(t *testing.T) {
	c := activeCoupon()
	c.CustomerType = CustomerNew
	l := newLedger(&mockCouponRepo{coupon: c}, &mockShopperProfile{})

	req := validateReq(200)
	req.ShopperID = ""

	_, _, err := l.Validate(context.Background(), req)
	require.ErrorIs(t, err, ErrNotEligible)
}

func TestCommitUsage(t *testing.T) {
	repo := &mockCouponRepo{coupon: activeCoupon()}
	l := newLedger(repo, &mockShopperProfile{})

	err := l.CommitUsage(context.Background(), activeCoupon(), "s1", "o1", decimal.NewFromInt(20))
	require.NoError(t, err)
	require.Len(t, repo.usages, 1)
	assert.Equal(t, "o1", repo.usages[0].OrderID)
	assert.Equal(t, fixedNow, repo.usages[0].UsedAt)
}
