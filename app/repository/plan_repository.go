package repository

import (
	"gorm.io/gorm"

	"github.com/code2deploy/payments/app/models"
)

// planRepository implements the PlanRepository interface
type planRepository struct {
	db *gorm.DB
}

// NewPlanRepository creates a new pricing plan repository instance
func NewPlanRepository(db *gorm.DB) PlanRepository {
	return &planRepository{db: db}
}

func (r *planRepository) Create(plan *models.PricingPlan) error {
	return r.db.Create(plan).Error
}

func (r *planRepository) GetByID(id uint) (*models.PricingPlan, error) {
	var plan models.PricingPlan
	if err := r.db.First(&plan, id).Error; err != nil {
		return nil, err
	}
	return &plan, nil
}

// GetActiveByID retrieves a plan only if it is still purchasable.
func (r *planRepository) GetActiveByID(id uint) (*models.PricingPlan, error) {
	var plan models.PricingPlan
	if err := r.db.Where("id = ? AND is_active = ?", id, true).First(&plan).Error; err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *planRepository) ListActive(programID *uint) ([]models.PricingPlan, error) {
	query := r.db.Where("is_active = ?", true)
	if programID != nil {
		query = query.Where("program_id = ?", *programID)
	}
	var plans []models.PricingPlan
	err := query.Order("price asc").Find(&plans).Error
	return plans, err
}

func (r *planRepository) List() ([]models.PricingPlan, error) {
	var plans []models.PricingPlan
	err := r.db.Order("price asc").Find(&plans).Error
	return plans, err
}

func (r *planRepository) Update(plan *models.PricingPlan) error {
	return r.db.Save(plan).Error
}

func (r *planRepository) Delete(id uint) error {
	return r.db.Delete(&models.PricingPlan{}, id).Error
}
