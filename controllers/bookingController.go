package controllers

import (
	"errors"
	"time"

	"buchung-backend/database"
	"buchung-backend/middlewares"
	"buchung-backend/models"
	"buchung-backend/outbox"
	"buchung-backend/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type CreateBookingDTO struct {
	ResourceID string    `json:"resource_id" validate:"required,uuid4"`
	StartsAt   time.Time `json:"starts_at" validate:"required"`
	EndsAt     time.Time `json:"ends_at" validate:"required"`
	Note       string    `json:"note"`
}

func CreateBooking(c *fiber.Ctx) error {
	var dto CreateBookingDTO
	if err := middlewares.BindAndValidate(c, &dto); err != nil {
		return err
	}
	if !dto.EndsAt.After(dto.StartsAt) {
		c.Status(fiber.StatusBadRequest)
		return c.JSON(fiber.Map{"message": "ends_at must be after starts_at"})
	}

	userID, _ := c.Locals("userID").(string)

	tx, err := database.GetTenantDB(c)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "tenant context missing")
	}

	var resource models.Resource
	if err := tx.First(&resource, "id = ? AND active = ?", dto.ResourceID, true).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.Status(fiber.StatusNotFound)
			return c.JSON(fiber.Map{"message": "resource not found or inactive"})
		}
		return err
	}

	now := time.Now().UTC()
	var policy models.BookingPolicy
	err = tx.Where("resource_id = ?", resource.Id).First(&policy).Error
	switch {
	case err == nil:
		if err := policy.CheckWindow(dto.StartsAt, dto.EndsAt, now); err != nil {
			c.Status(fiber.StatusBadRequest)
			return c.JSON(fiber.Map{"message": err.Error()})
		}
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return err
	}

	// Capacity check over the requested window; cancelled bookings don't count.
	var overlapping int64
	err = tx.Model(&models.Booking{}).
		Where("resource_id = ? AND status <> ? AND starts_at < ? AND ends_at > ?",
			resource.Id, models.BookingCancelled, dto.EndsAt, dto.StartsAt).
		Count(&overlapping).Error
	if err != nil {
		return err
	}
	if overlapping >= int64(resource.Capacity) {
		c.Status(fiber.StatusConflict)
		return c.JSON(fiber.Map{"message": "resource is fully booked for the requested window"})
	}

	booking := models.Booking{
		ResourceID: resource.Id,
		UserID:     userID,
		StartsAt:   dto.StartsAt.UTC(),
		EndsAt:     dto.EndsAt.UTC(),
		Status:     models.BookingPending,
		TotalPrice: utils.Round2(dto.EndsAt.Sub(dto.StartsAt).Hours() * resource.HourlyRate),
		Note:       dto.Note,
	}
	if err := tx.Create(&booking).Error; err != nil {
		c.Status(fiber.StatusBadRequest)
		return c.JSON(fiber.Map{"message": "Could not create booking", "error": err.Error()})
	}

	if _, err := outbox.Append(tx, models.EventBookingCreated, booking); err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "could not record event")
	}

	c.Status(fiber.StatusCreated)
	return c.JSON(booking)
}

func ConfirmBooking(c *fiber.Ctx) error {
	tx, err := database.GetTenantDB(c)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "tenant context missing")
	}

	id := c.Params("id")
	res := tx.Model(&models.Booking{}).
		Where("id = ? AND status = ?", id, models.BookingPending).
		Update("status", models.BookingConfirmed)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var booking models.Booking
		if err := tx.First(&booking, "id = ?", id).Error; err != nil {
			return err
		}
		c.Status(fiber.StatusConflict)
		return c.JSON(fiber.Map{"message": "only pending bookings can be confirmed", "status": booking.Status})
	}

	var booking models.Booking
	if err := tx.First(&booking, "id = ?", id).Error; err != nil {
		return err
	}

	if _, err := outbox.Append(tx, models.EventBookingConfirmed, booking); err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "could not record event")
	}

	return c.JSON(booking)
}

func CancelBooking(c *fiber.Ctx) error {
	tx, err := database.GetTenantDB(c)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "tenant context missing")
	}

	var booking models.Booking
	if err := tx.First(&booking, "id = ?", c.Params("id")).Error; err != nil {
		return err
	}
	if booking.Status == models.BookingCancelled {
		c.Status(fiber.StatusConflict)
		return c.JSON(fiber.Map{"message": "booking is already cancelled"})
	}

	now := time.Now().UTC()
	var policy models.BookingPolicy
	err = tx.Where("resource_id = ?", booking.ResourceID).First(&policy).Error
	switch {
	case err == nil:
		if !policy.Cancellable(booking.StartsAt, now) {
			c.Status(fiber.StatusConflict)
			return c.JSON(fiber.Map{"message": "cancellation window has passed"})
		}
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return err
	}

	if err := tx.Model(&booking).Update("status", models.BookingCancelled).Error; err != nil {
		return err
	}

	if _, err := outbox.Append(tx, models.EventBookingCancelled, booking); err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "could not record event")
	}

	return c.JSON(booking)
}

func GetBookings(c *fiber.Ctx) error {
	tx, err := database.GetTenantDB(c)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "tenant context missing")
	}

	q := tx.Model(&models.Booking{}).Order("starts_at DESC")
	if rid := c.Query("resource_id"); rid != "" {
		q = q.Where("resource_id = ?", rid)
	}
	if status := c.Query("status"); status != "" {
		q = q.Where("status = ?", status)
	}
	limit := utils.ParseIntDefault(c.Query("limit"), 50)
	if limit > 200 {
		limit = 200
	}

	var bookings []models.Booking
	if err := q.Limit(limit).Find(&bookings).Error; err != nil {
		return err
	}
	return c.JSON(fiber.Map{"bookings": bookings})
}

func GetBooking(c *fiber.Ctx) error {
	tx, err := database.GetTenantDB(c)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "tenant context missing")
	}

	var booking models.Booking
	if err := tx.First(&booking, "id = ?", c.Params("id")).Error; err != nil {
		return err
	}
	return c.JSON(booking)
}
