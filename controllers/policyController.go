package controllers

import (
	"errors"

	"buchung-backend/database"
	"buchung-backend/middlewares"
	"buchung-backend/models"
	"buchung-backend/outbox"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type PolicyDTO struct {
	MinDurationMinutes  int `json:"min_duration_minutes" validate:"omitempty,min=1"`
	MaxDurationMinutes  int `json:"max_duration_minutes" validate:"omitempty,min=1"`
	LeadTimeMinutes     int `json:"lead_time_minutes" validate:"omitempty,min=0"`
	CancellationMinutes int `json:"cancellation_minutes" validate:"omitempty,min=0"`
}

// PutPolicy creates or replaces the booking policy of a resource.
func PutPolicy(c *fiber.Ctx) error {
	var dto PolicyDTO
	if err := middlewares.BindAndValidate(c, &dto); err != nil {
		return err
	}

	if dto.MinDurationMinutes == 0 {
		dto.MinDurationMinutes = 30
	}
	if dto.MaxDurationMinutes == 0 {
		dto.MaxDurationMinutes = 480
	}
	if dto.MaxDurationMinutes < dto.MinDurationMinutes {
		c.Status(fiber.StatusBadRequest)
		return c.JSON(fiber.Map{"message": "max_duration_minutes must be >= min_duration_minutes"})
	}

	tx, err := database.GetTenantDB(c)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "tenant context missing")
	}

	resourceID := c.Params("id")
	var resource models.Resource
	if err := tx.First(&resource, "id = ?", resourceID).Error; err != nil {
		return err
	}

	var policy models.BookingPolicy
	err = tx.Where("resource_id = ?", resourceID).First(&policy).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		policy = models.BookingPolicy{ResourceID: resourceID}
	case err != nil:
		return err
	}

	policy.MinDurationMinutes = dto.MinDurationMinutes
	policy.MaxDurationMinutes = dto.MaxDurationMinutes
	policy.LeadTimeMinutes = dto.LeadTimeMinutes
	policy.CancellationMinutes = dto.CancellationMinutes

	if err := tx.Save(&policy).Error; err != nil {
		c.Status(fiber.StatusBadRequest)
		return c.JSON(fiber.Map{"message": "Could not save policy", "error": err.Error()})
	}

	if _, err := outbox.Append(tx, models.EventPolicyUpdated, policy); err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "could not record event")
	}

	return c.JSON(policy)
}

func GetPolicy(c *fiber.Ctx) error {
	tx, err := database.GetTenantDB(c)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "tenant context missing")
	}

	var policy models.BookingPolicy
	if err := tx.Where("resource_id = ?", c.Params("id")).First(&policy).Error; err != nil {
		return err
	}
	return c.JSON(policy)
}
