package settlement

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/code2deploy/payments/app/models"
)

// Store is the durable surface the coordinator applies settlement facts to.
// Every terminal transition is a conditional update checked by rows-affected,
// executed inside one Transact unit, so racing reconcilers are serialized by
// the database itself rather than an in-process lock.
type Store interface {
	Transact(fn func(Store) error) error

	GetOrderForUser(orderID string, userID uint) (*models.Order, error)
	GetOrderByOrderID(orderID string) (*models.Order, error)
	GetOrderByID(id uint) (*models.Order, error)
	GetPlanByID(id uint) (*models.PricingPlan, error)
	GetUserByID(id uint) (*models.User, error)

	CreatePayment(payment *models.Payment) error
	GetPaymentByProviderPaymentID(providerPaymentID string) (*models.Payment, error)
	GetCompletedPaymentByOrderID(orderID uint) (*models.Payment, error)
	ListStalePendingPayments(olderThan time.Time, limit int) ([]models.Payment, error)

	// VoidPendingPayments fails every still-pending payment of an order.
	// A new attempt calls this so at most one live attempt exists per order.
	VoidPendingPayments(orderID uint) (int64, error)

	// CompletePayment moves a pending payment to completed. Returns false
	// when the payment already left pending; the caller then takes the
	// duplicate branch.
	CompletePayment(id uint, payerID, captureID, raw string, now time.Time) (bool, error)
	FailPayment(id uint, raw string) (bool, error)
	RefundPayment(id uint, raw string) (bool, error)

	// MarkOrderPaid moves processing to paid and stamps paid_at exactly
	// once.
	MarkOrderPaid(id uint, now time.Time) (bool, error)
	MarkOrderFailed(id uint) (bool, error)
	MarkOrderRefunded(id uint) (bool, error)
	TransitionOrder(id uint, from []string, to string) (bool, error)

	UpsertSubscription(sub *models.Subscription) error
	EnqueueOutbox(msg *models.OutboxMessage) error
}

type gormStore struct {
	db *gorm.DB
}

// NewStore creates a settlement store backed by GORM.
func NewStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) Transact(fn func(Store) error) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		return fn(&gormStore{db: tx})
	})
}

func (s *gormStore) GetOrderForUser(orderID string, userID uint) (*models.Order, error) {
	var order models.Order
	err := s.db.Where("order_id = ? AND user_id = ?", orderID, userID).First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (s *gormStore) GetOrderByOrderID(orderID string) (*models.Order, error) {
	var order models.Order
	if err := s.db.Where("order_id = ?", orderID).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (s *gormStore) GetOrderByID(id uint) (*models.Order, error) {
	var order models.Order
	if err := s.db.First(&order, id).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (s *gormStore) GetPlanByID(id uint) (*models.PricingPlan, error) {
	var plan models.PricingPlan
	if err := s.db.First(&plan, id).Error; err != nil {
		return nil, err
	}
	return &plan, nil
}

func (s *gormStore) GetUserByID(id uint) (*models.User, error) {
	var user models.User
	if err := s.db.First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *gormStore) CreatePayment(payment *models.Payment) error {
	return s.db.Create(payment).Error
}

func (s *gormStore) GetPaymentByProviderPaymentID(providerPaymentID string) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.Where("provider_payment_id = ?", providerPaymentID).First(&payment).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (s *gormStore) GetCompletedPaymentByOrderID(orderID uint) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.Where("order_id = ? AND status = ?", orderID, models.PaymentStatusCompleted).
		First(&payment).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (s *gormStore) ListStalePendingPayments(olderThan time.Time, limit int) ([]models.Payment, error) {
	var payments []models.Payment
	err := s.db.Where("status = ? AND created_at < ?", models.PaymentStatusPending, olderThan).
		Order("id ASC").
		Limit(limit).
		Find(&payments).Error
	if err != nil {
		return nil, err
	}
	return payments, nil
}

func (s *gormStore) VoidPendingPayments(orderID uint) (int64, error) {
	res := s.db.Model(&models.Payment{}).
		Where("order_id = ? AND status = ?", orderID, models.PaymentStatusPending).
		Update("status", models.PaymentStatusFailed)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (s *gormStore) CompletePayment(id uint, payerID, captureID, raw string, now time.Time) (bool, error) {
	res := s.db.Model(&models.Payment{}).
		Where("id = ? AND status = ?", id, models.PaymentStatusPending).
		Updates(map[string]interface{}{
			"status":              models.PaymentStatusCompleted,
			"completed_at":        now,
			"provider_payer_id":   payerID,
			"provider_capture_id": captureID,
			"provider_response":   raw,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *gormStore) FailPayment(id uint, raw string) (bool, error) {
	res := s.db.Model(&models.Payment{}).
		Where("id = ? AND status = ?", id, models.PaymentStatusPending).
		Updates(map[string]interface{}{
			"status":            models.PaymentStatusFailed,
			"provider_response": raw,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *gormStore) RefundPayment(id uint, raw string) (bool, error) {
	res := s.db.Model(&models.Payment{}).
		Where("id = ? AND status = ?", id, models.PaymentStatusCompleted).
		Updates(map[string]interface{}{
			"status":            models.PaymentStatusRefunded,
			"provider_response": raw,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *gormStore) MarkOrderPaid(id uint, now time.Time) (bool, error) {
	res := s.db.Model(&models.Order{}).
		Where("id = ? AND status = ?", id, models.OrderStatusProcessing).
		Updates(map[string]interface{}{
			"status": models.OrderStatusPaid,
			// paid_at is written once; re-entry into paid is impossible but
			// COALESCE keeps the stamp immutable regardless.
			"paid_at": gorm.Expr("COALESCE(paid_at, ?)", now),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *gormStore) MarkOrderFailed(id uint) (bool, error) {
	return s.TransitionOrder(id, []string{models.OrderStatusProcessing}, models.OrderStatusFailed)
}

func (s *gormStore) MarkOrderRefunded(id uint) (bool, error) {
	return s.TransitionOrder(id, []string{models.OrderStatusPaid}, models.OrderStatusRefunded)
}

func (s *gormStore) TransitionOrder(id uint, from []string, to string) (bool, error) {
	res := s.db.Model(&models.Order{}).
		Where("id = ? AND status IN ?", id, from).
		Update("status", to)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// UpsertSubscription inserts or refreshes the row behind the
// ux_subscriptions_user_plan key in one statement, so two racing
// reconcilers cannot trip each other on the unique index.
func (s *gormStore) UpsertSubscription(sub *models.Subscription) error {
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "pricing_plan_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status",
			"provider",
			"provider_subscription_id",
			"current_period_start",
			"current_period_end",
		}),
	}).Create(sub).Error
}

func (s *gormStore) EnqueueOutbox(msg *models.OutboxMessage) error {
	return s.db.Create(msg).Error
}
