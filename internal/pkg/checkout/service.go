// Package checkout owns order creation and cancellation. Creating an order
// re-runs the quote inside the same transaction that writes the order and
// consumes the coupon, so a price or coupon change between quoting and
// ordering can never produce a mispriced or unattributed order.
package checkout

import (
	"errors"
	"time"

	"github.com/code2deploy/payments/app/models"
	"github.com/code2deploy/payments/internal/pkg/pricing"
)

var (
	// ErrCouponExhausted means a concurrent order consumed the coupon's last
	// allowed use, or this user already used it the maximum number of times.
	// Order creation fails as a whole; nothing partial is left behind.
	ErrCouponExhausted = errors.New("coupon exhausted")

	// ErrNotCancellable means the order already left the cancellable states.
	ErrNotCancellable = errors.New("order can no longer be cancelled")
)

// BillingInfo carries the optional billing details captured at checkout.
type BillingInfo struct {
	Name    string `json:"billing_name" validate:"max=200"`
	Email   string `json:"billing_email" validate:"omitempty,email,max=200"`
	Address string `json:"billing_address"`
	Country string `json:"billing_country" validate:"max=100"`
}

// CreateOrderParams are the inputs for order creation.
type CreateOrderParams struct {
	UserID          uint
	PlanID          uint
	CouponCode      string
	PaymentMethodID *uint
	Billing         BillingInfo
}

// Service creates and cancels orders on top of a transactional store.
type Service struct {
	store Store
	now   func() time.Time
}

// NewService creates a checkout service.
func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// CreateOrder quotes, snapshots and persists a new pending order. If a
// coupon applies, its consumption happens in the same transaction; a
// concurrent exhaustion fails the whole creation with ErrCouponExhausted.
func (s *Service) CreateOrder(params CreateOrderParams) (*models.Order, error) {
	var order *models.Order

	err := s.store.Transact(func(tx Store) error {
		calc := pricing.NewCalculatorAt(tx, tx, s.now)
		quote, err := calc.Quote(params.PlanID, params.CouponCode, params.UserID)
		if err != nil {
			return err
		}

		o := &models.Order{
			OrderID:         models.NewOrderID(),
			UserID:          params.UserID,
			PricingPlanID:   &quote.Plan.ID,
			Amount:          quote.Amount,
			Currency:        quote.Currency,
			Status:          models.OrderStatusPending,
			PaymentMethodID: params.PaymentMethodID,
			BillingName:     params.Billing.Name,
			BillingEmail:    params.Billing.Email,
			BillingAddress:  params.Billing.Address,
			BillingCountry:  params.Billing.Country,
			Metadata: models.JSONMap{
				models.OrderMetaOriginalAmount: quote.OriginalAmount.StringFixed(2),
				models.OrderMetaCouponCode:     appliedCode(quote),
			},
		}
		if err := tx.CreateOrder(o); err != nil {
			return err
		}

		if quote.Coupon != nil {
			if err := tx.ConsumeCoupon(quote.Coupon.ID, params.UserID, o.ID); err != nil {
				return err
			}
		}

		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// CancelOrder moves one of the user's orders from pending or processing to
// cancelled. Orders past that point are not cancellable.
func (s *Service) CancelOrder(userID uint, orderID string) (*models.Order, error) {
	var order *models.Order

	err := s.store.Transact(func(tx Store) error {
		o, err := tx.GetOrderForUser(orderID, userID)
		if err != nil {
			return err
		}

		if !models.OrderCanTransition(o.Status, models.OrderStatusCancelled) {
			return ErrNotCancellable
		}
		moved, err := tx.TransitionOrder(o.ID,
			[]string{models.OrderStatusPending, models.OrderStatusProcessing},
			models.OrderStatusCancelled)
		if err != nil {
			return err
		}
		if !moved {
			return ErrNotCancellable
		}

		o.Status = models.OrderStatusCancelled
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func appliedCode(quote *pricing.Quote) string {
	if quote.Coupon == nil {
		return ""
	}
	return quote.Coupon.Code
}
