package checkout

import (
	"errors"

	"gorm.io/gorm"

	"github.com/code2deploy/payments/app/models"
)

// Store is the transactional surface order creation runs against. Transact
// yields a store bound to one database transaction; everything called on it
// commits or rolls back as a unit.
type Store interface {
	Transact(fn func(Store) error) error

	GetActiveByID(id uint) (*models.PricingPlan, error)
	GetByCode(code string) (*models.Coupon, error)
	CountUsageByUser(couponID, userID uint) (int64, error)

	CreateOrder(order *models.Order) error
	GetOrderForUser(orderID string, userID uint) (*models.Order, error)
	ConsumeCoupon(couponID, userID, orderID uint) error
	TransitionOrder(id uint, from []string, to string) (bool, error)
}

type gormStore struct {
	db *gorm.DB
}

// NewStore creates a checkout store backed by GORM.
func NewStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) Transact(fn func(Store) error) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		return fn(&gormStore{db: tx})
	})
}

func (s *gormStore) GetActiveByID(id uint) (*models.PricingPlan, error) {
	var plan models.PricingPlan
	if err := s.db.Where("id = ? AND is_active = ?", id, true).First(&plan).Error; err != nil {
		return nil, err
	}
	return &plan, nil
}

func (s *gormStore) GetByCode(code string) (*models.Coupon, error) {
	var coupon models.Coupon
	err := s.db.Preload("ApplicablePlans").
		Where("code = ?", models.NormalizeCouponCode(code)).
		First(&coupon).Error
	if err != nil {
		return nil, err
	}
	return &coupon, nil
}

func (s *gormStore) CountUsageByUser(couponID, userID uint) (int64, error) {
	var count int64
	err := s.db.Model(&models.CouponUsage{}).
		Where("coupon_id = ? AND user_id = ?", couponID, userID).
		Count(&count).Error
	return count, err
}

func (s *gormStore) CreateOrder(order *models.Order) error {
	return s.db.Create(order).Error
}

func (s *gormStore) GetOrderForUser(orderID string, userID uint) (*models.Order, error) {
	var order models.Order
	err := s.db.Where("order_id = ? AND user_id = ?", orderID, userID).First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// ConsumeCoupon increments times_used and inserts the usage row as one unit.
// The increment is conditional on the global cap, checked in SQL, so two
// concurrent orders chasing the last use cannot both win; the usage insert is
// covered by the unique (coupon_id, order_id) index against retries.
func (s *gormStore) ConsumeCoupon(couponID, userID, orderID uint) error {
	res := s.db.Model(&models.Coupon{}).
		Where("id = ? AND is_active = ?", couponID, true).
		Where("max_uses IS NULL OR times_used < max_uses").
		UpdateColumn("times_used", gorm.Expr("times_used + 1"))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrCouponExhausted
	}

	usage := &models.CouponUsage{CouponID: couponID, UserID: userID, OrderID: orderID}
	if err := s.db.Create(usage).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrCouponExhausted
		}
		return err
	}
	return nil
}

// TransitionOrder applies a status change only if the order is still in one
// of the expected source states; the rows-affected check makes racing
// transitions lose cleanly.
func (s *gormStore) TransitionOrder(id uint, from []string, to string) (bool, error) {
	res := s.db.Model(&models.Order{}).
		Where("id = ? AND status IN ?", id, from).
		Update("status", to)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
