package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	OrderStatusPending    = "pending"
	OrderStatusProcessing = "processing"
	OrderStatusPaid       = "paid"
	OrderStatusFailed     = "failed"
	OrderStatusRefunded   = "refunded"
	OrderStatusCancelled  = "cancelled"
)

// Metadata keys snapshotted onto orders for audit.
const (
	OrderMetaOriginalAmount = "original_amount"
	OrderMetaCouponCode     = "coupon_code"
)

// Order records an intent to pay for a pricing plan. Amount and currency are
// snapshots taken at creation; later plan or coupon changes never alter them.
// OrderID is the externally shareable opaque identifier, distinct from the
// numeric primary key.
type Order struct {
	ID            uint            `gorm:"primaryKey" json:"-"`
	OrderID       string          `gorm:"type:varchar(36);uniqueIndex;not null" json:"order_id"`
	UserID        uint            `gorm:"not null;index" json:"user_id"`
	PricingPlanID *uint           `gorm:"index" json:"pricing_plan_id,omitempty"`
	Amount        decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"amount"`
	Currency      string          `gorm:"type:varchar(3);not null;default:'USD'" json:"currency"`
	Status        string          `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`

	PaymentMethodID *uint `gorm:"default:null" json:"payment_method_id,omitempty"`

	BillingName    string `gorm:"type:varchar(200)" json:"billing_name" validate:"max=200"`
	BillingEmail   string `gorm:"type:varchar(200)" json:"billing_email" validate:"omitempty,email,max=200"`
	BillingAddress string `gorm:"type:text" json:"billing_address"`
	BillingCountry string `gorm:"type:varchar(100)" json:"billing_country" validate:"max=100"`

	Notes    string  `gorm:"type:text" json:"notes"`
	Metadata JSONMap `gorm:"type:json" json:"metadata"`

	CreatedAt time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
	PaidAt    *time.Time `gorm:"type:timestamp;default:null" json:"paid_at,omitempty"`
}

// NewOrderID mints an externally shareable opaque order identifier.
func NewOrderID() string {
	return uuid.NewString()
}

// orderTransitions is the legal state table. Anything not listed is rejected.
var orderTransitions = map[string][]string{
	OrderStatusPending:    {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusPaid, OrderStatusFailed, OrderStatusCancelled},
	OrderStatusPaid:       {OrderStatusRefunded},
}

// OrderCanTransition reports whether an order status change is legal.
func OrderCanTransition(from, to string) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the order can no longer move except to refunded.
func (o *Order) IsTerminal() bool {
	switch o.Status {
	case OrderStatusFailed, OrderStatusRefunded, OrderStatusCancelled:
		return true
	}
	return false
}
