package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	DiscountTypePercentage = "percentage"
	DiscountTypeFixed      = "fixed"
)

// Coupon is a discount code with usage caps and a validity window. The
// times_used counter and the CouponUsage rows are always written together in
// one transaction; they must never drift apart.
type Coupon struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	Code          string          `gorm:"type:varchar(50);uniqueIndex;not null" json:"code" validate:"required,max=50"`
	Description   string          `gorm:"type:text" json:"description"`
	DiscountType  string          `gorm:"type:varchar(20);not null" json:"discount_type" validate:"oneof=percentage fixed"`
	DiscountValue decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"discount_value"`

	MaxUses        *int `gorm:"default:null" json:"max_uses,omitempty"`
	TimesUsed      int  `gorm:"not null;default:0" json:"times_used"`
	MaxUsesPerUser int  `gorm:"not null;default:1" json:"max_uses_per_user"`

	ValidFrom  time.Time  `gorm:"not null" json:"valid_from"`
	ValidUntil *time.Time `gorm:"default:null" json:"valid_until,omitempty"`
	IsActive   bool       `gorm:"default:true;index" json:"is_active"`

	MinimumOrderAmount *decimal.Decimal `gorm:"type:decimal(10,2);default:null" json:"minimum_order_amount,omitempty"`
	ApplicablePlans    []PricingPlan    `gorm:"many2many:coupon_applicable_plans" json:"applicable_plans,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// NormalizeCouponCode canonicalizes a coupon code for case-insensitive lookup.
func NormalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// IsValidAt reports whether the coupon can still be redeemed at the given
// time, considering active flag, validity window and the global usage cap.
func (c *Coupon) IsValidAt(now time.Time) bool {
	if !c.IsActive {
		return false
	}
	if now.Before(c.ValidFrom) {
		return false
	}
	if c.ValidUntil != nil && now.After(*c.ValidUntil) {
		return false
	}
	if c.MaxUses != nil && c.TimesUsed >= *c.MaxUses {
		return false
	}
	return true
}

// AppliesToPlan reports whether the coupon is restricted to a plan set and,
// if so, whether the given plan is in it. An empty set applies to all plans.
func (c *Coupon) AppliesToPlan(planID uint) bool {
	if len(c.ApplicablePlans) == 0 {
		return true
	}
	for _, p := range c.ApplicablePlans {
		if p.ID == planID {
			return true
		}
	}
	return false
}

// MeetsMinimum reports whether an order amount satisfies the coupon's
// minimum order amount, if one is set.
func (c *Coupon) MeetsMinimum(amount decimal.Decimal) bool {
	if c.MinimumOrderAmount == nil {
		return true
	}
	return amount.GreaterThanOrEqual(*c.MinimumOrderAmount)
}

// Discount applies the coupon to an amount. Percentage coupons scale the
// amount down, fixed coupons subtract. The result is clamped at zero.
func (c *Coupon) Discount(amount decimal.Decimal) decimal.Decimal {
	var discounted decimal.Decimal
	switch c.DiscountType {
	case DiscountTypePercentage:
		factor := decimal.NewFromInt(1).Sub(c.DiscountValue.Div(decimal.NewFromInt(100)))
		discounted = amount.Mul(factor)
	case DiscountTypeFixed:
		discounted = amount.Sub(c.DiscountValue)
	default:
		return amount
	}
	discounted = discounted.Round(2)
	if discounted.IsNegative() {
		return decimal.Zero
	}
	return discounted
}

// CouponUsage links a redeemed coupon to the user and order that consumed it.
// The unique index on (coupon_id, order_id) prevents double-counting a coupon
// against the same order on a retried creation path.
type CouponUsage struct {
	ID       uint      `gorm:"primaryKey" json:"id"`
	CouponID uint      `gorm:"not null;index:ux_coupon_usages_coupon_order,unique,priority:1;index:idx_coupon_usages_coupon_user,priority:1" json:"coupon_id"`
	UserID   uint      `gorm:"not null;index:idx_coupon_usages_coupon_user,priority:2" json:"user_id"`
	OrderID  uint      `gorm:"not null;index:ux_coupon_usages_coupon_order,unique,priority:2" json:"order_id"`
	UsedAt   time.Time `gorm:"autoCreateTime" json:"used_at"`
}
