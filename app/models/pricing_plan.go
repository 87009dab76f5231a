package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	BillingCycleOneTime   = "one_time"
	BillingCycleMonthly   = "monthly"
	BillingCycleQuarterly = "quarterly"
	BillingCycleYearly    = "yearly"
)

// PricingPlan is a purchasable plan, optionally linked to a program. Orders
// snapshot the plan amount at creation time, so price changes never alter
// settled orders.
type PricingPlan struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	Name         string          `gorm:"type:varchar(100);not null" json:"name" validate:"required,max=100"`
	Description  string          `gorm:"type:text" json:"description"`
	Price        decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"price"`
	Currency     string          `gorm:"type:varchar(3);not null;default:'USD'" json:"currency" validate:"required,len=3"`
	BillingCycle string          `gorm:"type:varchar(20);not null;default:'one_time'" json:"billing_cycle" validate:"oneof=one_time monthly quarterly yearly"`
	ProgramID    *uint           `gorm:"index" json:"program_id,omitempty"`
	FeaturesJSON string          `gorm:"type:text" json:"features_json"`
	IsActive     bool            `gorm:"default:true;index" json:"is_active"`
	IsFeatured   bool            `gorm:"default:false" json:"is_featured"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsRecurring reports whether the plan bills on a cycle instead of once.
func (p *PricingPlan) IsRecurring() bool {
	return p.BillingCycle != "" && p.BillingCycle != BillingCycleOneTime
}

// PeriodEnd returns the end of a billing period starting at the given time.
func (p *PricingPlan) PeriodEnd(start time.Time) time.Time {
	switch p.BillingCycle {
	case BillingCycleMonthly:
		return start.AddDate(0, 1, 0)
	case BillingCycleQuarterly:
		return start.AddDate(0, 3, 0)
	case BillingCycleYearly:
		return start.AddDate(1, 0, 0)
	default:
		return start
	}
}
