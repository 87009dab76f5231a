package controllers

import (
	"encoding/json"
	"errors"
	"log"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/code2deploy/payments/app/models"
	"github.com/code2deploy/payments/app/repository"
	"github.com/code2deploy/payments/internal/pkg/cache"
)

const planListCacheTTL = 5 * time.Minute

// HandleListPlans returns active pricing plans, optionally filtered by
// program. The listing is the hottest read of the service and is cached;
// admin plan writes invalidate it.
func HandleListPlans(c *fiber.Ctx) error {
	var programID *uint
	if raw := c.Query("program_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return errorJSON(c, fiber.StatusBadRequest, "bad_request", "Invalid program_id")
		}
		v := uint(id)
		programID = &v
	}

	cacheKey := "plans:active:all"
	if programID != nil {
		cacheKey = "plans:active:program:" + strconv.FormatUint(uint64(*programID), 10)
	}
	if cached, err := cache.Get(cacheKey); err == nil {
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		return c.SendString(cached)
	} else if !cache.IsNotFound(err) {
		log.Printf("plan list cache read failed: %v", err)
	}

	repo := repository.GetGlobalFactory().GetPlanRepository()
	plans, err := repo.ListActive(programID)
	if err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load plans")
	}

	payload, err := json.Marshal(fiber.Map{"plans": plans})
	if err == nil {
		if err := cache.Set(cacheKey, string(payload), planListCacheTTL); err != nil {
			log.Printf("plan list cache write failed: %v", err)
		}
	}
	return c.JSON(fiber.Map{"plans": plans})
}

// invalidatePlanCache drops the unfiltered listing. Program-filtered entries
// expire with their TTL.
func invalidatePlanCache() {
	if err := cache.Delete("plans:active:all"); err != nil {
		log.Printf("plan list cache invalidation failed: %v", err)
	}
}

// HandleGetPlan returns one active plan by id.
func HandleGetPlan(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return errorJSON(c, fiber.StatusBadRequest, "bad_request", "Invalid plan id")
	}

	repo := repository.GetGlobalFactory().GetPlanRepository()
	plan, err := repo.GetActiveByID(uint(id))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errorJSON(c, fiber.StatusNotFound, "not_found", "Plan not found")
		}
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load plan")
	}
	return c.JSON(plan)
}

// HandleAdminListPlans returns all plans including inactive ones.
func HandleAdminListPlans(c *fiber.Ctx) error {
	repo := repository.GetGlobalFactory().GetPlanRepository()
	plans, err := repo.List()
	if err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load plans")
	}
	return c.JSON(fiber.Map{"plans": plans})
}

// HandleAdminCreatePlan creates a pricing plan.
func HandleAdminCreatePlan(c *fiber.Ctx) error {
	var plan models.PricingPlan
	if err := c.BodyParser(&plan); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "bad_request", "Invalid request body")
	}
	plan.ID = 0
	if plan.BillingCycle == "" {
		plan.BillingCycle = models.BillingCycleOneTime
	}
	if err := validate.Struct(&plan); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "validation_failed", err.Error())
	}

	repo := repository.GetGlobalFactory().GetPlanRepository()
	if err := repo.Create(&plan); err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to create plan")
	}
	invalidatePlanCache()
	return c.Status(fiber.StatusCreated).JSON(plan)
}

// HandleAdminUpdatePlan updates a pricing plan. Orders keep their snapshotted
// amounts regardless.
func HandleAdminUpdatePlan(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return errorJSON(c, fiber.StatusBadRequest, "bad_request", "Invalid plan id")
	}

	repo := repository.GetGlobalFactory().GetPlanRepository()
	plan, err := repo.GetByID(uint(id))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errorJSON(c, fiber.StatusNotFound, "not_found", "Plan not found")
		}
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load plan")
	}

	if err := c.BodyParser(plan); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "bad_request", "Invalid request body")
	}
	plan.ID = uint(id)
	if err := validate.Struct(plan); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "validation_failed", err.Error())
	}
	if err := repo.Update(plan); err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to update plan")
	}
	invalidatePlanCache()
	return c.JSON(plan)
}

// HandleAdminDeletePlan deactivates a plan instead of deleting it, so
// historical orders keep a valid reference.
func HandleAdminDeletePlan(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return errorJSON(c, fiber.StatusBadRequest, "bad_request", "Invalid plan id")
	}

	repo := repository.GetGlobalFactory().GetPlanRepository()
	plan, err := repo.GetByID(uint(id))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errorJSON(c, fiber.StatusNotFound, "not_found", "Plan not found")
		}
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load plan")
	}
	plan.IsActive = false
	if err := repo.Update(plan); err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to deactivate plan")
	}
	invalidatePlanCache()
	return c.SendStatus(fiber.StatusNoContent)
}
