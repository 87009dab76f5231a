package repository

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/code2deploy/payments/app/models"
)

// UserRepository defines the interface for user-related database operations
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
	GetByAPIKeyHash(hash string) (*models.User, error)
	Update(user *models.User) error
}

// PlanRepository defines the interface for pricing plan operations
type PlanRepository interface {
	Create(plan *models.PricingPlan) error
	GetByID(id uint) (*models.PricingPlan, error)
	GetActiveByID(id uint) (*models.PricingPlan, error)
	ListActive(programID *uint) ([]models.PricingPlan, error)
	List() ([]models.PricingPlan, error)
	Update(plan *models.PricingPlan) error
	Delete(id uint) error
}

// CouponRepository defines the interface for coupon operations
type CouponRepository interface {
	Create(coupon *models.Coupon) error
	GetByID(id uint) (*models.Coupon, error)
	GetByCode(code string) (*models.Coupon, error)
	CountUsageByUser(couponID, userID uint) (int64, error)
	List() ([]models.Coupon, error)
	Update(coupon *models.Coupon) error
	Delete(id uint) error
}

// OrderFilter narrows admin order listings.
type OrderFilter struct {
	Status    string
	StartDate *time.Time
	EndDate   *time.Time
	Offset    int
	Limit     int
}

// PaymentStats is the aggregate admin dashboard view over orders.
type PaymentStats struct {
	TotalRevenue   decimal.Decimal `json:"total_revenue"`
	TotalOrders    int64           `json:"total_orders"`
	PaidOrders     int64           `json:"paid_orders"`
	PendingOrders  int64           `json:"pending_orders"`
	FailedOrders   int64           `json:"failed_orders"`
	RefundedOrders int64           `json:"refunded_orders"`
}

// OrderRepository defines the read side of orders; state transitions go
// through the checkout and settlement packages.
type OrderRepository interface {
	GetByOrderID(orderID string) (*models.Order, error)
	GetByOrderIDForUser(orderID string, userID uint) (*models.Order, error)
	ListByUser(userID uint, offset, limit int) ([]models.Order, error)
	List(filter OrderFilter) ([]models.Order, error)
	GetStats() (*PaymentStats, error)
}

// PaymentRepository defines the read side of payments.
type PaymentRepository interface {
	GetByPaymentID(paymentID string) (*models.Payment, error)
	GetByProviderPaymentID(providerPaymentID string) (*models.Payment, error)
	ListByOrder(orderID uint) ([]models.Payment, error)
}

// SubscriptionRepository defines the interface for subscription reads.
type SubscriptionRepository interface {
	ListByUser(userID uint) ([]models.Subscription, error)
}

// PaymentMethodRepository defines the payment method catalog operations.
type PaymentMethodRepository interface {
	Create(method *models.PaymentMethod) error
	GetByID(id uint) (*models.PaymentMethod, error)
	ListActive() ([]models.PaymentMethod, error)
	List() ([]models.PaymentMethod, error)
	Update(method *models.PaymentMethod) error
	Delete(id uint) error
}

// WebhookEventRepository persists inbound provider events idempotently.
type WebhookEventRepository interface {
	CreateIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	MarkProcessed(id uint, processingError string) error
}
