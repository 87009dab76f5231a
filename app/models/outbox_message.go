package models

import "time"

const (
	OutboxStatusPending = "pending"
	OutboxStatusSent    = "sent"
	OutboxStatusFailed  = "failed"
)

const (
	OutboxKindPaymentReceipt = "payment_receipt"
	OutboxKindPaymentFailed  = "payment_failed"
	OutboxKindRefundNotice   = "refund_notice"
	OutboxKindEnrollment     = "enrollment"
)

// OutboxMessage is a durable notification row written in the same database
// transaction as the state change it announces. A background dispatcher sends
// and marks it, so a process crash can never silently drop a notification.
type OutboxMessage struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	Kind      string `gorm:"type:varchar(50);not null;index" json:"kind"`
	Recipient string `gorm:"type:varchar(200);not null" json:"recipient"`
	Subject   string `gorm:"type:varchar(200);not null" json:"subject"`
	Body      string `gorm:"type:text;not null" json:"body"`

	Status   string `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	Attempts int    `gorm:"not null;default:0" json:"attempts"`
	LastErr  string `gorm:"type:text" json:"last_err"`

	CreatedAt time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
	SentAt    *time.Time `gorm:"type:timestamp;default:null" json:"sent_at,omitempty"`
}
