package repository

import (
	"sync"

	"gorm.io/gorm"
)

// Repositories bundles all repository implementations.
type Repositories struct {
	User          UserRepository
	Plan          PlanRepository
	Coupon        CouponRepository
	Order         OrderRepository
	Payment       PaymentRepository
	Subscription  SubscriptionRepository
	PaymentMethod PaymentMethodRepository
	WebhookEvent  WebhookEventRepository
}

// NewRepositories creates all repositories backed by the given DB handle.
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:          NewUserRepository(db),
		Plan:          NewPlanRepository(db),
		Coupon:        NewCouponRepository(db),
		Order:         NewOrderRepository(db),
		Payment:       NewPaymentRepository(db),
		Subscription:  NewSubscriptionRepository(db),
		PaymentMethod: NewPaymentMethodRepository(db),
		WebhookEvent:  NewWebhookEventRepository(db),
	}
}

// Factory manages repository instances and ensures they are singletons
type Factory struct {
	db    *gorm.DB
	repos *Repositories
	once  sync.Once
}

// NewFactory creates a new repository factory
func NewFactory(db *gorm.DB) *Factory {
	return &Factory{
		db: db,
	}
}

// GetRepositories returns a singleton instance of all repositories
func (f *Factory) GetRepositories() *Repositories {
	f.once.Do(func() {
		f.repos = NewRepositories(f.db)
	})
	return f.repos
}

// GetUserRepository returns the user repository instance
func (f *Factory) GetUserRepository() UserRepository {
	return f.GetRepositories().User
}

// GetPlanRepository returns the pricing plan repository instance
func (f *Factory) GetPlanRepository() PlanRepository {
	return f.GetRepositories().Plan
}

// GetCouponRepository returns the coupon repository instance
func (f *Factory) GetCouponRepository() CouponRepository {
	return f.GetRepositories().Coupon
}

// GetOrderRepository returns the order repository instance
func (f *Factory) GetOrderRepository() OrderRepository {
	return f.GetRepositories().Order
}

// GetPaymentRepository returns the payment repository instance
func (f *Factory) GetPaymentRepository() PaymentRepository {
	return f.GetRepositories().Payment
}

// GetSubscriptionRepository returns the subscription repository instance
func (f *Factory) GetSubscriptionRepository() SubscriptionRepository {
	return f.GetRepositories().Subscription
}

// GetPaymentMethodRepository returns the payment method repository instance
func (f *Factory) GetPaymentMethodRepository() PaymentMethodRepository {
	return f.GetRepositories().PaymentMethod
}

// GetWebhookEventRepository returns the webhook event repository instance
func (f *Factory) GetWebhookEventRepository() WebhookEventRepository {
	return f.GetRepositories().WebhookEvent
}

// Global factory instance
var globalFactory *Factory
var factoryOnce sync.Once

// InitializeFactory initializes the global repository factory
func InitializeFactory(db *gorm.DB) {
	factoryOnce.Do(func() {
		globalFactory = NewFactory(db)
	})
}

// GetGlobalFactory returns the global repository factory instance
func GetGlobalFactory() *Factory {
	if globalFactory == nil {
		panic("Repository factory not initialized. Call InitializeFactory first.")
	}
	return globalFactory
}

// GetGlobalRepositories returns the global repositories instance
func GetGlobalRepositories() *Repositories {
	return GetGlobalFactory().GetRepositories()
}
