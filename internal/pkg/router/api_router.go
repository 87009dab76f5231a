package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/code2deploy/payments/app/controllers"
	"github.com/code2deploy/payments/internal/pkg/middleware"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New())
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "payments api",
		})
	})

	v1 := api.Group("/v1")

	// Public catalog routes
	v1.Get("/plans", controllers.HandleListPlans)
	v1.Get("/plans/:id", controllers.HandleGetPlan)
	v1.Get("/payment-methods", controllers.HandleListPaymentMethods)

	// Webhook ingress authenticates by signature, not API key
	v1.Post("/webhooks/gateway", controllers.HandleGatewayWebhook)

	// Authenticated user routes
	authed := v1.Group("", middleware.APIKeyAuthMiddleware())
	authed.Post("/coupons/validate", controllers.HandleValidateCoupon)
	authed.Post("/orders", controllers.HandleCreateOrder)
	authed.Get("/orders", controllers.HandleListOrders)
	authed.Get("/orders/:order_id", controllers.HandleGetOrder)
	authed.Post("/orders/:order_id/cancel", controllers.HandleCancelOrder)
	authed.Post("/orders/:order_id/gateway/open", controllers.HandleOpenPayment)
	authed.Post("/orders/:order_id/gateway/capture", controllers.HandleCapturePayment)

	// Admin routes
	admin := v1.Group("/admin", middleware.APIKeyAuthMiddleware(), middleware.RequireAdmin())
	admin.Get("/stats", controllers.HandleAdminStats)
	admin.Get("/orders", controllers.HandleAdminListOrders)
	admin.Post("/orders/:order_id/refund", controllers.HandleAdminRefundOrder)
	admin.Get("/plans", controllers.HandleAdminListPlans)
	admin.Post("/plans", controllers.HandleAdminCreatePlan)
	admin.Put("/plans/:id", controllers.HandleAdminUpdatePlan)
	admin.Delete("/plans/:id", controllers.HandleAdminDeletePlan)
	admin.Get("/coupons", controllers.HandleAdminListCoupons)
	admin.Post("/coupons", controllers.HandleAdminCreateCoupon)
	admin.Put("/coupons/:id", controllers.HandleAdminUpdateCoupon)
	admin.Delete("/coupons/:id", controllers.HandleAdminDeleteCoupon)
	admin.Get("/payment-methods", controllers.HandleAdminListPaymentMethods)
	admin.Post("/payment-methods", controllers.HandleAdminCreatePaymentMethod)
	admin.Put("/payment-methods/:id", controllers.HandleAdminUpdatePaymentMethod)
	admin.Delete("/payment-methods/:id", controllers.HandleAdminDeletePaymentMethod)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
