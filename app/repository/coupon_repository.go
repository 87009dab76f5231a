package repository

import (
	"gorm.io/gorm"

	"github.com/code2deploy/payments/app/models"
)

// couponRepository implements the CouponRepository interface
type couponRepository struct {
	db *gorm.DB
}

// NewCouponRepository creates a new coupon repository instance
func NewCouponRepository(db *gorm.DB) CouponRepository {
	return &couponRepository{db: db}
}

func (r *couponRepository) Create(coupon *models.Coupon) error {
	coupon.Code = models.NormalizeCouponCode(coupon.Code)
	return r.db.Create(coupon).Error
}

func (r *couponRepository) GetByID(id uint) (*models.Coupon, error) {
	var coupon models.Coupon
	if err := r.db.Preload("ApplicablePlans").First(&coupon, id).Error; err != nil {
		return nil, err
	}
	return &coupon, nil
}

// GetByCode resolves a coupon case-insensitively via the normalized code.
func (r *couponRepository) GetByCode(code string) (*models.Coupon, error) {
	var coupon models.Coupon
	err := r.db.Preload("ApplicablePlans").
		Where("code = ?", models.NormalizeCouponCode(code)).
		First(&coupon).Error
	if err != nil {
		return nil, err
	}
	return &coupon, nil
}

// CountUsageByUser counts how many orders by this user already consumed the
// coupon.
func (r *couponRepository) CountUsageByUser(couponID, userID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.CouponUsage{}).
		Where("coupon_id = ? AND user_id = ?", couponID, userID).
		Count(&count).Error
	return count, err
}

func (r *couponRepository) List() ([]models.Coupon, error) {
	var coupons []models.Coupon
	err := r.db.Preload("ApplicablePlans").Order("created_at desc").Find(&coupons).Error
	return coupons, err
}

func (r *couponRepository) Update(coupon *models.Coupon) error {
	coupon.Code = models.NormalizeCouponCode(coupon.Code)
	return r.db.Save(coupon).Error
}

func (r *couponRepository) Delete(id uint) error {
	return r.db.Delete(&models.Coupon{}, id).Error
}
