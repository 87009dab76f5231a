package repository

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/code2deploy/payments/app/models"
)

// orderRepository implements the OrderRepository interface
type orderRepository struct {
	db *gorm.DB
}

// NewOrderRepository creates a new order repository instance
func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

func (r *orderRepository) GetByOrderID(orderID string) (*models.Order, error) {
	var order models.Order
	if err := r.db.Where("order_id = ?", orderID).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// GetByOrderIDForUser scopes lookup to the owning user, so one user can never
// read or act on another user's order.
func (r *orderRepository) GetByOrderIDForUser(orderID string, userID uint) (*models.Order, error) {
	var order models.Order
	err := r.db.Where("order_id = ? AND user_id = ?", orderID, userID).First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *orderRepository) ListByUser(userID uint, offset, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.Where("user_id = ?", userID).
		Order("created_at desc").
		Offset(offset).Limit(limit).
		Find(&orders).Error
	return orders, err
}

func (r *orderRepository) List(filter OrderFilter) ([]models.Order, error) {
	query := r.db.Model(&models.Order{})
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.StartDate != nil {
		query = query.Where("created_at >= ?", *filter.StartDate)
	}
	if filter.EndDate != nil {
		query = query.Where("created_at <= ?", *filter.EndDate)
	}
	if filter.Limit > 0 {
		query = query.Offset(filter.Offset).Limit(filter.Limit)
	}
	var orders []models.Order
	err := query.Order("created_at desc").Find(&orders).Error
	return orders, err
}

// GetStats aggregates order counts and paid revenue for the admin dashboard.
func (r *orderRepository) GetStats() (*PaymentStats, error) {
	stats := &PaymentStats{TotalRevenue: decimal.Zero}

	var revenue *string
	err := r.db.Model(&models.Order{}).
		Where("status = ?", models.OrderStatusPaid).
		Select("SUM(amount)").
		Scan(&revenue).Error
	if err != nil {
		return nil, err
	}
	if revenue != nil {
		total, err := decimal.NewFromString(*revenue)
		if err != nil {
			return nil, err
		}
		stats.TotalRevenue = total
	}

	counts := []struct {
		status string
		dest   *int64
	}{
		{"", &stats.TotalOrders},
		{models.OrderStatusPaid, &stats.PaidOrders},
		{models.OrderStatusPending, &stats.PendingOrders},
		{models.OrderStatusFailed, &stats.FailedOrders},
		{models.OrderStatusRefunded, &stats.RefundedOrders},
	}
	for _, c := range counts {
		query := r.db.Model(&models.Order{})
		if c.status != "" {
			query = query.Where("status = ?", c.status)
		}
		if err := query.Count(c.dest).Error; err != nil {
			return nil, err
		}
	}
	return stats, nil
}
