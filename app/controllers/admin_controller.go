package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/code2deploy/payments/app/repository"
	"github.com/code2deploy/payments/internal/pkg/cache"
	"github.com/code2deploy/payments/internal/pkg/gateway"
	"github.com/code2deploy/payments/internal/pkg/settlement"
)

const adminStatsCacheKey = "admin:stats"
const adminStatsCacheTTL = time.Minute

// HandleAdminStats returns aggregate order and revenue numbers. The
// aggregation scans the whole orders table, so the result is cached briefly.
func HandleAdminStats(c *fiber.Ctx) error {
	if cached, err := cache.Get(adminStatsCacheKey); err == nil {
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		return c.SendString(cached)
	} else if !cache.IsNotFound(err) {
		log.Printf("admin stats cache read failed: %v", err)
	}

	repo := repository.GetGlobalFactory().GetOrderRepository()
	stats, err := repo.GetStats()
	if err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load stats")
	}

	if payload, err := json.Marshal(stats); err == nil {
		if err := cache.Set(adminStatsCacheKey, string(payload), adminStatsCacheTTL); err != nil {
			log.Printf("admin stats cache write failed: %v", err)
		}
	}
	return c.JSON(stats)
}

// HandleAdminListOrders lists orders across all users with optional filters.
func HandleAdminListOrders(c *fiber.Ctx) error {
	filter := repository.OrderFilter{
		Status: c.Query("status"),
		Offset: c.QueryInt("offset", 0),
		Limit:  c.QueryInt("limit", 50),
	}
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	if raw := c.Query("start_date"); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return errorJSON(c, fiber.StatusBadRequest, "bad_request", "Invalid start_date, expected YYYY-MM-DD")
		}
		filter.StartDate = &t
	}
	if raw := c.Query("end_date"); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return errorJSON(c, fiber.StatusBadRequest, "bad_request", "Invalid end_date, expected YYYY-MM-DD")
		}
		filter.EndDate = &t
	}

	repo := repository.GetGlobalFactory().GetOrderRepository()
	orders, err := repo.List(filter)
	if err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load orders")
	}

	out := make([]fiber.Map, 0, len(orders))
	for i := range orders {
		resp := orderResponse(&orders[i])
		resp["user_id"] = orders[i].UserID
		out = append(out, resp)
	}
	return c.JSON(fiber.Map{"orders": out, "offset": filter.Offset, "limit": filter.Limit})
}

type refundRequest struct {
	Amount *string `json:"amount"`
	Note   string  `json:"note" validate:"max=255"`
}

// HandleAdminRefundOrder refunds a paid order at the provider, fully or
// partially.
func HandleAdminRefundOrder(c *fiber.Ctx) error {
	orderID := c.Params("order_id")
	if orderID == "" {
		return errorJSON(c, fiber.StatusBadRequest, "bad_request", "Missing order id")
	}

	var req refundRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "bad_request", "Invalid request body")
	}
	if err := validate.Struct(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "validation_failed", err.Error())
	}

	var amount *decimal.Decimal
	if req.Amount != nil {
		parsed, err := decimal.NewFromString(*req.Amount)
		if err != nil || parsed.LessThanOrEqual(decimal.Zero) {
			return errorJSON(c, fiber.StatusBadRequest, "bad_request", "Invalid refund amount")
		}
		amount = &parsed
	}

	ctx, cancel := context.WithTimeout(c.Context(), 30*time.Second)
	defer cancel()

	order, err := getSettlementCoordinator().Refund(ctx, orderID, amount, req.Note)
	if err != nil {
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return errorJSON(c, fiber.StatusNotFound, "not_found", "Order not found")
		case errors.Is(err, settlement.ErrNotRefundable):
			return errorJSON(c, fiber.StatusConflict, "not_refundable", "Order is not refundable")
		case errors.Is(err, settlement.ErrAlreadyRefunded):
			return errorJSON(c, fiber.StatusConflict, "already_refunded", "Payment already refunded")
		case errors.Is(err, gateway.ErrUnavailable):
			return errorJSON(c, fiber.StatusBadGateway, "gateway_unavailable", "Payment provider unavailable, try again")
		case errors.Is(err, gateway.ErrRejected):
			return errorJSON(c, fiber.StatusUnprocessableEntity, "gateway_rejected", "Payment provider rejected the refund")
		default:
			return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to refund order")
		}
	}
	return c.JSON(orderResponse(order))
}
