package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/code2deploy/payments/app/models"
	"github.com/code2deploy/payments/app/repository"
)

// HandleListPaymentMethods returns the enabled payment method catalog.
func HandleListPaymentMethods(c *fiber.Ctx) error {
	repo := repository.GetGlobalFactory().GetPaymentMethodRepository()
	methods, err := repo.ListActive()
	if err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load payment methods")
	}
	return c.JSON(fiber.Map{"payment_methods": methods})
}

// HandleAdminListPaymentMethods returns all methods including disabled ones.
func HandleAdminListPaymentMethods(c *fiber.Ctx) error {
	repo := repository.GetGlobalFactory().GetPaymentMethodRepository()
	methods, err := repo.List()
	if err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load payment methods")
	}
	return c.JSON(fiber.Map{"payment_methods": methods})
}

// HandleAdminCreatePaymentMethod adds a catalog entry.
func HandleAdminCreatePaymentMethod(c *fiber.Ctx) error {
	var method models.PaymentMethod
	if err := c.BodyParser(&method); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "bad_request", "Invalid request body")
	}
	method.ID = 0
	if err := validate.Struct(&method); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "validation_failed", err.Error())
	}

	repo := repository.GetGlobalFactory().GetPaymentMethodRepository()
	if err := repo.Create(&method); err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to create payment method")
	}
	return c.Status(fiber.StatusCreated).JSON(method)
}

// HandleAdminUpdatePaymentMethod updates a catalog entry.
func HandleAdminUpdatePaymentMethod(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return errorJSON(c, fiber.StatusBadRequest, "bad_request", "Invalid payment method id")
	}

	repo := repository.GetGlobalFactory().GetPaymentMethodRepository()
	method, err := repo.GetByID(uint(id))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errorJSON(c, fiber.StatusNotFound, "not_found", "Payment method not found")
		}
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load payment method")
	}

	if err := c.BodyParser(method); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "bad_request", "Invalid request body")
	}
	method.ID = uint(id)
	if err := validate.Struct(method); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "validation_failed", err.Error())
	}
	if err := repo.Update(method); err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to update payment method")
	}
	return c.JSON(method)
}

// HandleAdminDeletePaymentMethod removes a catalog entry.
func HandleAdminDeletePaymentMethod(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return errorJSON(c, fiber.StatusBadRequest, "bad_request", "Invalid payment method id")
	}

	repo := repository.GetGlobalFactory().GetPaymentMethodRepository()
	if err := repo.Delete(uint(id)); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errorJSON(c, fiber.StatusNotFound, "not_found", "Payment method not found")
		}
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to delete payment method")
	}
	return c.SendStatus(fiber.StatusNoContent)
}
