package repository

import (
	"gorm.io/gorm"

	"github.com/code2deploy/payments/app/models"
)

type subscriptionRepository struct {
	db *gorm.DB
}

// NewSubscriptionRepository creates a new subscription repository instance
func NewSubscriptionRepository(db *gorm.DB) SubscriptionRepository {
	return &subscriptionRepository{db: db}
}

func (r *subscriptionRepository) ListByUser(userID uint) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.Where("user_id = ?", userID).Order("created_at desc").Find(&subs).Error
	return subs, err
}
