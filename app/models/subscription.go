package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	SubscriptionStatusActive    = "active"
	SubscriptionStatusCancelled = "cancelled"
	SubscriptionStatusExpired   = "expired"
	SubscriptionStatusPaused    = "paused"
)

// Subscription tracks a recurring-plan purchase and its current billing
// period. Deep recurring reconciliation is out of scope; rows are created or
// refreshed as a side effect of a paid recurring-cycle order.
type Subscription struct {
	ID             uint   `gorm:"primaryKey" json:"-"`
	SubscriptionID string `gorm:"type:varchar(36);uniqueIndex;not null" json:"subscription_id"`
	UserID         uint   `gorm:"not null;index:ux_subscriptions_user_plan,unique,priority:1" json:"user_id"`
	PricingPlanID  *uint  `gorm:"index:ux_subscriptions_user_plan,unique,priority:2" json:"pricing_plan_id,omitempty"`

	Provider               string `gorm:"type:varchar(50);not null" json:"provider"`
	ProviderSubscriptionID string `gorm:"type:varchar(255)" json:"provider_subscription_id"`

	Status string `gorm:"type:varchar(20);not null;default:'active';index" json:"status"`

	CurrentPeriodStart time.Time `gorm:"not null" json:"current_period_start"`
	CurrentPeriodEnd   time.Time `gorm:"not null" json:"current_period_end"`

	CancelledAt       *time.Time `gorm:"type:timestamp;default:null" json:"cancelled_at,omitempty"`
	CancelAtPeriodEnd bool       `gorm:"default:false" json:"cancel_at_period_end"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// NewSubscriptionID mints an externally visible subscription identifier.
func NewSubscriptionID() string {
	return uuid.NewString()
}
