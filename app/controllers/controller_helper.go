package controllers

import (
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/code2deploy/payments/app/models"
	"github.com/code2deploy/payments/internal/pkg/checkout"
	"github.com/code2deploy/payments/internal/pkg/database"
	"github.com/code2deploy/payments/internal/pkg/gateway"
	"github.com/code2deploy/payments/internal/pkg/settlement"
)

var (
	validate = validator.New()

	checkoutOnce    sync.Once
	checkoutService *checkout.Service

	settlementOnce        sync.Once
	settlementCoordinator *settlement.Coordinator

	gatewayOnce   sync.Once
	gatewayClient gateway.Client
)

func getCheckoutService() *checkout.Service {
	checkoutOnce.Do(func() {
		checkoutService = checkout.NewService(checkout.NewStore(database.GetDB()))
	})
	return checkoutService
}

func getGatewayClient() gateway.Client {
	gatewayOnce.Do(func() {
		gatewayClient = gateway.NewPayPalClientFromEnv()
	})
	return gatewayClient
}

func getSettlementCoordinator() *settlement.Coordinator {
	settlementOnce.Do(func() {
		settlementCoordinator = settlement.NewCoordinator(
			settlement.NewStore(database.GetDB()),
			getGatewayClient(),
		)
	})
	return settlementCoordinator
}

func errorJSON(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{"error": code, "message": message})
}

func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func orderResponse(order *models.Order) fiber.Map {
	return fiber.Map{
		"order_id":          order.OrderID,
		"pricing_plan_id":   order.PricingPlanID,
		"amount":            order.Amount.StringFixed(2),
		"currency":          order.Currency,
		"status":            order.Status,
		"payment_method_id": order.PaymentMethodID,
		"billing_name":      order.BillingName,
		"billing_email":     order.BillingEmail,
		"billing_address":   order.BillingAddress,
		"billing_country":   order.BillingCountry,
		"metadata":          order.Metadata,
		"created_at":        order.CreatedAt.UTC().Format(time.RFC3339),
		"paid_at":           formatTimePtr(order.PaidAt),
	}
}
