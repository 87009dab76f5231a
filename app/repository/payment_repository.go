package repository

import (
	"gorm.io/gorm"

	"github.com/code2deploy/payments/app/models"
)

// paymentRepository implements the PaymentRepository interface
type paymentRepository struct {
	db *gorm.DB
}

// NewPaymentRepository creates a new payment repository instance
func NewPaymentRepository(db *gorm.DB) PaymentRepository {
	return &paymentRepository{db: db}
}

func (r *paymentRepository) GetByPaymentID(paymentID string) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.Where("payment_id = ?", paymentID).First(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

// GetByProviderPaymentID resolves a provider-side transaction id to the local
// payment attempt it belongs to.
func (r *paymentRepository) GetByProviderPaymentID(providerPaymentID string) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.Where("provider_payment_id = ?", providerPaymentID).First(&payment).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *paymentRepository) ListByOrder(orderID uint) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.Where("order_id = ?", orderID).Order("created_at desc").Find(&payments).Error
	return payments, err
}
