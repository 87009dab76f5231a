package repository

import (
	"gorm.io/gorm"

	"github.com/code2deploy/payments/app/models"
)

type paymentMethodRepository struct {
	db *gorm.DB
}

// NewPaymentMethodRepository creates a new payment method repository instance
func NewPaymentMethodRepository(db *gorm.DB) PaymentMethodRepository {
	return &paymentMethodRepository{db: db}
}

func (r *paymentMethodRepository) Create(method *models.PaymentMethod) error {
	return r.db.Create(method).Error
}

func (r *paymentMethodRepository) GetByID(id uint) (*models.PaymentMethod, error) {
	var method models.PaymentMethod
	if err := r.db.First(&method, id).Error; err != nil {
		return nil, err
	}
	return &method, nil
}

func (r *paymentMethodRepository) ListActive() ([]models.PaymentMethod, error) {
	var methods []models.PaymentMethod
	err := r.db.Where("is_active = ?", true).
		Order("display_order asc, name asc").
		Find(&methods).Error
	return methods, err
}

func (r *paymentMethodRepository) List() ([]models.PaymentMethod, error) {
	var methods []models.PaymentMethod
	err := r.db.Order("display_order asc, name asc").Find(&methods).Error
	return methods, err
}

func (r *paymentMethodRepository) Update(method *models.PaymentMethod) error {
	return r.db.Save(method).Error
}

func (r *paymentMethodRepository) Delete(id uint) error {
	return r.db.Delete(&models.PaymentMethod{}, id).Error
}
