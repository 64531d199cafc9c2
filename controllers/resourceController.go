package controllers

import (
	"buchung-backend/database"
	"buchung-backend/middlewares"
	"buchung-backend/models"
	"buchung-backend/outbox"
	"buchung-backend/utils"

	"github.com/gofiber/fiber/v2"
)

type CreateResourceDTO struct {
	Name        string  `json:"name" validate:"required"`
	Description string  `json:"description"`
	Capacity    int     `json:"capacity" validate:"omitempty,min=1"`
	HourlyRate  float64 `json:"hourly_rate" validate:"omitempty,min=0"`
}

type UpdateResourceDTO struct {
	Name        *string  `json:"name"`
	Description *string  `json:"description"`
	Capacity    *int     `json:"capacity" validate:"omitempty,min=1"`
	HourlyRate  *float64 `json:"hourly_rate" validate:"omitempty,min=0"`
	Active      *bool    `json:"active"`
}

func CreateResource(c *fiber.Ctx) error {
	var dto CreateResourceDTO
	if err := middlewares.BindAndValidate(c, &dto); err != nil {
		return err
	}
	utils.NormalizeDTO(&dto)

	tx, err := database.GetTenantDB(c)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "tenant context missing")
	}

	capacity := dto.Capacity
	if capacity <= 0 {
		capacity = 1
	}

	resource := models.Resource{
		Name:        dto.Name,
		Description: dto.Description,
		Capacity:    capacity,
		HourlyRate:  utils.Round2(dto.HourlyRate),
		Active:      true,
	}
	if err := tx.Create(&resource).Error; err != nil {
		c.Status(fiber.StatusBadRequest)
		return c.JSON(fiber.Map{"message": "Could not create resource", "error": err.Error()})
	}

	if _, err := outbox.Append(tx, models.EventResourceCreated, resource); err != nil {
		// Abort the whole TX: a mutation must never commit without its event.
		return fiber.NewError(fiber.StatusInternalServerError, "could not record event")
	}

	c.Status(fiber.StatusCreated)
	return c.JSON(resource)
}

func GetResources(c *fiber.Ctx) error {
	tx, err := database.GetTenantDB(c)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "tenant context missing")
	}

	var resources []models.Resource
	if err := tx.Order("created_at").Find(&resources).Error; err != nil {
		return err
	}
	return c.JSON(fiber.Map{"resources": resources})
}

func GetResource(c *fiber.Ctx) error {
	tx, err := database.GetTenantDB(c)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "tenant context missing")
	}

	var resource models.Resource
	if err := tx.First(&resource, "id = ?", c.Params("id")).Error; err != nil {
		return err // 404 via ErrorHandler on gorm.ErrRecordNotFound
	}
	return c.JSON(resource)
}

func UpdateResource(c *fiber.Ctx) error {
	var dto UpdateResourceDTO
	if err := middlewares.BindAndValidate(c, &dto); err != nil {
		return err
	}
	utils.NormalizePtrDTO(&dto)

	updates := utils.UpdatesFromPtrDTO(&dto, nil)
	if len(updates) == 0 {
		c.Status(fiber.StatusBadRequest)
		return c.JSON(fiber.Map{"message": "no fields to update"})
	}

	tx, err := database.GetTenantDB(c)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "tenant context missing")
	}

	res := tx.Model(&models.Resource{}).Where("id = ?", c.Params("id")).Updates(updates)
	if res.Error != nil {
		c.Status(fiber.StatusBadRequest)
		return c.JSON(fiber.Map{"message": "Could not update resource", "error": res.Error.Error()})
	}
	if res.RowsAffected == 0 {
		c.Status(fiber.StatusNotFound)
		return c.JSON(fiber.Map{"message": "resource not found"})
	}

	var resource models.Resource
	if err := tx.First(&resource, "id = ?", c.Params("id")).Error; err != nil {
		return err
	}

	if _, err := outbox.Append(tx, models.EventResourceUpdated, resource); err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "could not record event")
	}

	return c.JSON(resource)
}
