package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/code2deploy/payments/internal/pkg/gateway"
	"github.com/code2deploy/payments/internal/pkg/settlement"
	"github.com/code2deploy/payments/internal/pkg/usercontext"
)

type openPaymentRequest struct {
	ReturnURL string `json:"return_url" validate:"required,url"`
	CancelURL string `json:"cancel_url" validate:"required,url"`
}

// HandleOpenPayment opens a provider transaction for one of the user's
// payable orders and returns the approval URL to redirect to.
func HandleOpenPayment(c *fiber.Ctx) error {
	orderID := c.Params("order_id")
	if orderID == "" {
		return errorJSON(c, fiber.StatusBadRequest, "bad_request", "Missing order id")
	}

	var req openPaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "bad_request", "Invalid request body")
	}
	if err := validate.Struct(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "validation_failed", err.Error())
	}

	ctx, cancel := context.WithTimeout(c.Context(), 30*time.Second)
	defer cancel()

	payment, approvalURL, err := getSettlementCoordinator().OpenPayment(
		ctx, usercontext.GetUserID(c), orderID, req.ReturnURL, req.CancelURL)
	if err != nil {
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return errorJSON(c, fiber.StatusNotFound, "not_found", "Order not found")
		case errors.Is(err, settlement.ErrOrderNotPayable):
			return errorJSON(c, fiber.StatusConflict, "not_payable", "Order is not payable")
		case errors.Is(err, gateway.ErrUnavailable):
			return errorJSON(c, fiber.StatusBadGateway, "gateway_unavailable", "Payment provider unavailable, try again")
		case errors.Is(err, gateway.ErrRejected):
			return errorJSON(c, fiber.StatusUnprocessableEntity, "gateway_rejected", "Payment provider rejected the request")
		default:
			return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to open payment")
		}
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"payment_id":          payment.PaymentID,
		"provider":            payment.Provider,
		"provider_payment_id": payment.ProviderPaymentID,
		"approval_url":        approvalURL,
		"status":              payment.Status,
	})
}

type capturePaymentRequest struct {
	ProviderPaymentID string `json:"provider_payment_id" validate:"required,max=255"`
}

// HandleCapturePayment captures an approved provider transaction and returns
// the settled order. Safe to call repeatedly.
func HandleCapturePayment(c *fiber.Ctx) error {
	orderID := c.Params("order_id")
	if orderID == "" {
		return errorJSON(c, fiber.StatusBadRequest, "bad_request", "Missing order id")
	}

	var req capturePaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "bad_request", "Invalid request body")
	}
	if err := validate.Struct(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "validation_failed", err.Error())
	}

	ctx, cancel := context.WithTimeout(c.Context(), 30*time.Second)
	defer cancel()

	outcome, order, err := getSettlementCoordinator().Capture(
		ctx, usercontext.GetUserID(c), orderID, req.ProviderPaymentID)
	if err != nil {
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return errorJSON(c, fiber.StatusNotFound, "not_found", "Order not found")
		case errors.Is(err, settlement.ErrUnknownTransaction):
			return errorJSON(c, fiber.StatusNotFound, "not_found", "Unknown payment transaction")
		case errors.Is(err, gateway.ErrUnavailable):
			return errorJSON(c, fiber.StatusBadGateway, "gateway_unavailable", "Payment provider unavailable, try again")
		case errors.Is(err, gateway.ErrRejected):
			return errorJSON(c, fiber.StatusUnprocessableEntity, "gateway_rejected", "Payment provider rejected the capture")
		default:
			return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to capture payment")
		}
	}

	return c.JSON(fiber.Map{
		"outcome": outcome,
		"order":   orderResponse(order),
	})
}
