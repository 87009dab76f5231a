package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/code2deploy/payments/app/repository"
	"github.com/code2deploy/payments/internal/pkg/checkout"
	"github.com/code2deploy/payments/internal/pkg/pricing"
	"github.com/code2deploy/payments/internal/pkg/usercontext"
)

type createOrderRequest struct {
	PlanID          uint   `json:"plan_id" validate:"required"`
	CouponCode      string `json:"coupon_code" validate:"max=50"`
	PaymentMethodID *uint  `json:"payment_method_id"`
	BillingName     string `json:"billing_name" validate:"max=200"`
	BillingEmail    string `json:"billing_email" validate:"omitempty,email,max=200"`
	BillingAddress  string `json:"billing_address"`
	BillingCountry  string `json:"billing_country" validate:"max=100"`
}

// HandleCreateOrder creates a pending order for the authenticated user. The
// amount is quoted and snapshotted server-side; clients never send a price.
func HandleCreateOrder(c *fiber.Ctx) error {
	var req createOrderRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "bad_request", "Invalid request body")
	}
	if err := validate.Struct(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "validation_failed", err.Error())
	}

	order, err := getCheckoutService().CreateOrder(checkout.CreateOrderParams{
		UserID:          usercontext.GetUserID(c),
		PlanID:          req.PlanID,
		CouponCode:      req.CouponCode,
		PaymentMethodID: req.PaymentMethodID,
		Billing: checkout.BillingInfo{
			Name:    req.BillingName,
			Email:   req.BillingEmail,
			Address: req.BillingAddress,
			Country: req.BillingCountry,
		},
	})
	if err != nil {
		switch {
		case errors.Is(err, pricing.ErrPlanNotFound):
			return errorJSON(c, fiber.StatusNotFound, "not_found", "Plan not found")
		case errors.Is(err, checkout.ErrCouponExhausted):
			return errorJSON(c, fiber.StatusConflict, "coupon_exhausted", "Coupon is no longer available")
		default:
			return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to create order")
		}
	}
	return c.Status(fiber.StatusCreated).JSON(orderResponse(order))
}

// HandleListOrders returns the authenticated user's orders, newest first.
func HandleListOrders(c *fiber.Ctx) error {
	offset := c.QueryInt("offset", 0)
	limit := c.QueryInt("limit", 20)
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	repo := repository.GetGlobalFactory().GetOrderRepository()
	orders, err := repo.ListByUser(usercontext.GetUserID(c), offset, limit)
	if err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load orders")
	}

	out := make([]fiber.Map, 0, len(orders))
	for i := range orders {
		out = append(out, orderResponse(&orders[i]))
	}
	return c.JSON(fiber.Map{"orders": out, "offset": offset, "limit": limit})
}

// HandleGetOrder returns one of the user's orders by its opaque id.
func HandleGetOrder(c *fiber.Ctx) error {
	orderID := c.Params("order_id")
	if orderID == "" {
		return errorJSON(c, fiber.StatusBadRequest, "bad_request", "Missing order id")
	}

	repo := repository.GetGlobalFactory().GetOrderRepository()
	order, err := repo.GetByOrderIDForUser(orderID, usercontext.GetUserID(c))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errorJSON(c, fiber.StatusNotFound, "not_found", "Order not found")
		}
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load order")
	}
	return c.JSON(orderResponse(order))
}

// HandleCancelOrder cancels one of the user's unsettled orders.
func HandleCancelOrder(c *fiber.Ctx) error {
	orderID := c.Params("order_id")
	if orderID == "" {
		return errorJSON(c, fiber.StatusBadRequest, "bad_request", "Missing order id")
	}

	order, err := getCheckoutService().CancelOrder(usercontext.GetUserID(c), orderID)
	if err != nil {
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return errorJSON(c, fiber.StatusNotFound, "not_found", "Order not found")
		case errors.Is(err, checkout.ErrNotCancellable):
			return errorJSON(c, fiber.StatusConflict, "not_cancellable", "Order can no longer be cancelled")
		default:
			return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to cancel order")
		}
	}
	return c.JSON(orderResponse(order))
}
