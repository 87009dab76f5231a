package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestCouponDiscount(t *testing.T) {
	amount := decimal.RequireFromString("100.00")

	percent := Coupon{DiscountType: DiscountTypePercentage, DiscountValue: decimal.NewFromInt(20)}
	assert.True(t, percent.Discount(amount).Equal(decimal.RequireFromString("80.00")))

	fixed := Coupon{DiscountType: DiscountTypeFixed, DiscountValue: decimal.RequireFromString("30.50")}
	assert.True(t, fixed.Discount(amount).Equal(decimal.RequireFromString("69.50")))

	// A fixed discount larger than the amount clamps to zero, never negative.
	big := Coupon{DiscountType: DiscountTypeFixed, DiscountValue: decimal.NewFromInt(500)}
	assert.True(t, big.Discount(amount).Equal(decimal.Zero))

	full := Coupon{DiscountType: DiscountTypePercentage, DiscountValue: decimal.NewFromInt(100)}
	assert.True(t, full.Discount(amount).Equal(decimal.Zero))

	unknown := Coupon{DiscountType: "mystery", DiscountValue: decimal.NewFromInt(20)}
	assert.True(t, unknown.Discount(amount).Equal(amount))
}

func TestCouponIsValidAt(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	until := now.Add(24 * time.Hour)
	maxUses := 5

	valid := Coupon{IsActive: true, ValidFrom: now.Add(-time.Hour), ValidUntil: &until, MaxUses: &maxUses, TimesUsed: 4}
	assert.True(t, valid.IsValidAt(now))

	inactive := valid
	inactive.IsActive = false
	assert.False(t, inactive.IsValidAt(now))

	notYet := valid
	notYet.ValidFrom = now.Add(time.Hour)
	assert.False(t, notYet.IsValidAt(now))

	expired := valid
	past := now.Add(-time.Minute)
	expired.ValidUntil = &past
	assert.False(t, expired.IsValidAt(now))

	exhausted := valid
	exhausted.TimesUsed = 5
	assert.False(t, exhausted.IsValidAt(now))

	unlimited := valid
	unlimited.MaxUses = nil
	unlimited.TimesUsed = 100000
	assert.True(t, unlimited.IsValidAt(now))
}

func TestCouponAppliesToPlan(t *testing.T) {
	open := Coupon{}
	assert.True(t, open.AppliesToPlan(42))

	restricted := Coupon{ApplicablePlans: []PricingPlan{{ID: 1}, {ID: 2}}}
	assert.True(t, restricted.AppliesToPlan(2))
	assert.False(t, restricted.AppliesToPlan(42))
}

func TestCouponMeetsMinimum(t *testing.T) {
	min := decimal.NewFromInt(50)
	c := Coupon{MinimumOrderAmount: &min}
	assert.True(t, c.MeetsMinimum(decimal.NewFromInt(50)))
	assert.False(t, c.MeetsMinimum(decimal.RequireFromString("49.99")))

	none := Coupon{}
	assert.True(t, none.MeetsMinimum(decimal.Zero))
}

func TestNormalizeCouponCode(t *testing.T) {
	assert.Equal(t, "WELCOME20", NormalizeCouponCode("  welcome20 "))
}
