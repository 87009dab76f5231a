package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/code2deploy/payments/app/models"
	"github.com/code2deploy/payments/app/repository"
	"github.com/code2deploy/payments/internal/pkg/pricing"
	"github.com/code2deploy/payments/internal/pkg/usercontext"
)

type validateCouponRequest struct {
	Code   string `json:"code" validate:"required,max=50"`
	PlanID uint   `json:"plan_id" validate:"required"`
}

// HandleValidateCoupon previews a coupon against a plan for the authenticated
// user. Unusable coupons are reported as not applied, never as an error, so
// checkout UIs can show the fallback price directly.
func HandleValidateCoupon(c *fiber.Ctx) error {
	var req validateCouponRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "bad_request", "Invalid request body")
	}
	if err := validate.Struct(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "validation_failed", err.Error())
	}

	factory := repository.GetGlobalFactory()
	calc := pricing.NewCalculator(factory.GetPlanRepository(), factory.GetCouponRepository())
	quote, err := calc.Quote(req.PlanID, req.Code, usercontext.GetUserID(c))
	if err != nil {
		if errors.Is(err, pricing.ErrPlanNotFound) {
			return errorJSON(c, fiber.StatusNotFound, "not_found", "Plan not found")
		}
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to validate coupon")
	}

	resp := fiber.Map{
		"applied":         quote.Coupon != nil,
		"amount":          quote.Amount.StringFixed(2),
		"original_amount": quote.OriginalAmount.StringFixed(2),
		"currency":        quote.Currency,
	}
	if quote.Coupon != nil {
		resp["coupon_code"] = quote.Coupon.Code
		resp["discount"] = quote.OriginalAmount.Sub(quote.Amount).StringFixed(2)
	}
	return c.JSON(resp)
}

// HandleAdminListCoupons returns all coupons.
func HandleAdminListCoupons(c *fiber.Ctx) error {
	repo := repository.GetGlobalFactory().GetCouponRepository()
	coupons, err := repo.List()
	if err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load coupons")
	}
	return c.JSON(fiber.Map{"coupons": coupons})
}

// HandleAdminCreateCoupon creates a coupon. Codes are stored normalized.
func HandleAdminCreateCoupon(c *fiber.Ctx) error {
	var coupon models.Coupon
	if err := c.BodyParser(&coupon); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "bad_request", "Invalid request body")
	}
	coupon.ID = 0
	coupon.TimesUsed = 0
	coupon.Code = models.NormalizeCouponCode(coupon.Code)
	if err := validate.Struct(&coupon); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "validation_failed", err.Error())
	}

	repo := repository.GetGlobalFactory().GetCouponRepository()
	if err := repo.Create(&coupon); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return errorJSON(c, fiber.StatusConflict, "conflict", "Coupon code already exists")
		}
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to create coupon")
	}
	return c.Status(fiber.StatusCreated).JSON(coupon)
}

// HandleAdminUpdateCoupon updates a coupon. The usage counter is never
// writable through the API.
func HandleAdminUpdateCoupon(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return errorJSON(c, fiber.StatusBadRequest, "bad_request", "Invalid coupon id")
	}

	repo := repository.GetGlobalFactory().GetCouponRepository()
	coupon, err := repo.GetByID(uint(id))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errorJSON(c, fiber.StatusNotFound, "not_found", "Coupon not found")
		}
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load coupon")
	}

	timesUsed := coupon.TimesUsed
	if err := c.BodyParser(coupon); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "bad_request", "Invalid request body")
	}
	coupon.ID = uint(id)
	coupon.TimesUsed = timesUsed
	coupon.Code = models.NormalizeCouponCode(coupon.Code)
	if err := validate.Struct(coupon); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "validation_failed", err.Error())
	}
	if err := repo.Update(coupon); err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to update coupon")
	}
	return c.JSON(coupon)
}

// HandleAdminDeleteCoupon deactivates a coupon; usage history stays intact.
func HandleAdminDeleteCoupon(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return errorJSON(c, fiber.StatusBadRequest, "bad_request", "Invalid coupon id")
	}

	repo := repository.GetGlobalFactory().GetCouponRepository()
	coupon, err := repo.GetByID(uint(id))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errorJSON(c, fiber.StatusNotFound, "not_found", "Coupon not found")
		}
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load coupon")
	}
	coupon.IsActive = false
	if err := repo.Update(coupon); err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to deactivate coupon")
	}
	return c.SendStatus(fiber.StatusNoContent)
}
