// Package pricing computes the chargeable amount for a pricing plan with an
// optional coupon. Quoting never writes: usage accounting happens at order
// creation, so a quoted discount is never reserved before it is consumed.
package pricing

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/code2deploy/payments/app/models"
)

// ErrPlanNotFound is returned when the requested plan is missing or inactive.
var ErrPlanNotFound = errors.New("pricing plan not found")

// PlanSource resolves purchasable plans.
type PlanSource interface {
	GetActiveByID(id uint) (*models.PricingPlan, error)
}

// CouponSource resolves coupons and their per-user consumption.
type CouponSource interface {
	GetByCode(code string) (*models.Coupon, error)
	CountUsageByUser(couponID, userID uint) (int64, error)
}

// Quote is the result of a price calculation. Coupon is nil when no discount
// applied; Amount then equals OriginalAmount.
type Quote struct {
	Plan           *models.PricingPlan
	Amount         decimal.Decimal
	OriginalAmount decimal.Decimal
	Currency       string
	Coupon         *models.Coupon
}

// Calculator computes quotes from plan and coupon sources. The sources may be
// the global repositories or transaction-bound stores, so order creation can
// re-run the same calculation inside its transaction.
type Calculator struct {
	plans   PlanSource
	coupons CouponSource
	now     func() time.Time
}

// NewCalculator creates a quote calculator.
func NewCalculator(plans PlanSource, coupons CouponSource) *Calculator {
	return &Calculator{plans: plans, coupons: coupons, now: time.Now}
}

// NewCalculatorAt creates a calculator with a fixed clock, for tests.
func NewCalculatorAt(plans PlanSource, coupons CouponSource, now func() time.Time) *Calculator {
	return &Calculator{plans: plans, coupons: coupons, now: now}
}

// Quote computes the chargeable amount for a plan and optional coupon code.
// An unusable coupon never blocks checkout: the quote falls back to the full
// price instead of failing. Only a missing plan is an error.
func (c *Calculator) Quote(planID uint, couponCode string, userID uint) (*Quote, error) {
	plan, err := c.plans.GetActiveByID(planID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPlanNotFound
		}
		return nil, err
	}

	quote := &Quote{
		Plan:           plan,
		Amount:         plan.Price,
		OriginalAmount: plan.Price,
		Currency:       plan.Currency,
	}
	if couponCode == "" {
		return quote, nil
	}

	coupon, err := c.coupons.GetByCode(couponCode)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return quote, nil
		}
		return nil, err
	}

	usable, err := c.Usable(coupon, plan, userID)
	if err != nil {
		return nil, err
	}
	if !usable {
		return quote, nil
	}

	quote.Amount = coupon.Discount(plan.Price)
	quote.Coupon = coupon
	return quote, nil
}

// Usable reports whether the coupon can discount this plan for this user
// right now: active, inside its validity window, globally not exhausted,
// applicable to the plan, above the minimum order amount, and below the
// per-user cap.
func (c *Calculator) Usable(coupon *models.Coupon, plan *models.PricingPlan, userID uint) (bool, error) {
	if !coupon.IsValidAt(c.now()) {
		return false, nil
	}
	if !coupon.AppliesToPlan(plan.ID) {
		return false, nil
	}
	if !coupon.MeetsMinimum(plan.Price) {
		return false, nil
	}
	uses, err := c.coupons.CountUsageByUser(coupon.ID, userID)
	if err != nil {
		return false, err
	}
	return uses < int64(coupon.MaxUsesPerUser), nil
}
