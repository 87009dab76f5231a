package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	PaymentStatusPending   = "pending"
	PaymentStatusCompleted = "completed"
	PaymentStatusFailed    = "failed"
	PaymentStatusRefunded  = "refunded"
)

const PaymentProviderPayPal = "paypal"

// Payment records one attempt, at one external provider, to settle an Order.
// An order may accumulate several failed attempts, but at most one payment
// ever reaches completed; the settlement coordinator is the only writer of
// Status once the row exists.
type Payment struct {
	ID        uint   `gorm:"primaryKey" json:"-"`
	PaymentID string `gorm:"type:varchar(36);uniqueIndex;not null" json:"payment_id"`
	OrderID   uint   `gorm:"not null;index" json:"-"`

	Provider          string `gorm:"type:varchar(50);not null" json:"provider"`
	ProviderPaymentID string `gorm:"type:varchar(255);uniqueIndex;not null" json:"provider_payment_id"`
	ProviderPayerID   string `gorm:"type:varchar(255)" json:"provider_payer_id"`
	ProviderCaptureID string `gorm:"type:varchar(255);index" json:"provider_capture_id"`

	Amount   decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"amount"`
	Currency string          `gorm:"type:varchar(3);not null;default:'USD'" json:"currency"`
	Status   string          `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`

	// Raw provider response snapshot, kept for audit and debugging.
	ProviderResponse string `gorm:"type:longtext" json:"-"`

	CreatedAt   time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
	CompletedAt *time.Time `gorm:"type:timestamp;default:null" json:"completed_at,omitempty"`
}

// NewPaymentID mints an externally visible opaque payment identifier.
func NewPaymentID() string {
	return uuid.NewString()
}

// IsTerminal reports whether the payment already carries a final verdict.
// Re-delivery of a settlement signal for a terminal payment is a no-op.
func (p *Payment) IsTerminal() bool {
	switch p.Status {
	case PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusRefunded:
		return true
	}
	return false
}
