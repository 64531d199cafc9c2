package controllers

import (
	"time"

	"buchung-backend/database"
	"buchung-backend/models"
	"buchung-backend/utils"

	"github.com/gofiber/fiber/v2"
)

// GetDeliveries is the operator view over the delivery table, filterable by
// subscription and status.
func GetDeliveries(c *fiber.Ctx) error {
	tx, err := database.GetTenantDB(c)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "tenant context missing")
	}

	q := tx.Model(&models.WebhookDelivery{}).Order("created_at DESC")
	if sid := c.Query("subscription_id"); sid != "" {
		q = q.Where("subscription_id = ?", sid)
	}
	if status := c.Query("status"); status != "" {
		q = q.Where("status = ?", status)
	}
	limit := utils.ParseIntDefault(c.Query("limit"), 50)
	if limit > 200 {
		limit = 200
	}

	var deliveries []models.WebhookDelivery
	if err := q.Limit(limit).Find(&deliveries).Error; err != nil {
		return err
	}
	return c.JSON(fiber.Map{"deliveries": deliveries})
}

// RetryDelivery is the manual operator action that puts a failed or exhausted
// delivery back into the worker's due set. Attempt count is preserved for
// failed rows and reset for exhausted ones, so a revived lineage gets a full
// round of attempts again.
func RetryDelivery(c *fiber.Ctx) error {
	tx, err := database.GetTenantDB(c)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "tenant context missing")
	}

	id := c.Params("id")
	var delivery models.WebhookDelivery
	if err := tx.First(&delivery, "id = ?", id).Error; err != nil {
		return err
	}

	if !delivery.Status.CanTransition(models.DeliveryPending) {
		c.Status(fiber.StatusConflict)
		return c.JSON(fiber.Map{"message": "only failed or exhausted deliveries can be retried", "status": delivery.Status})
	}

	updates := map[string]any{
		"status":          models.DeliveryPending,
		"next_attempt_at": time.Now().UTC(),
		"last_error":      "",
	}
	if delivery.Status == models.DeliveryExhausted {
		updates["attempt_count"] = 0
	}

	// The status predicate keeps a concurrent worker claim from being clobbered.
	res := tx.Model(&models.WebhookDelivery{}).
		Where("id = ? AND status = ?", id, delivery.Status).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		c.Status(fiber.StatusConflict)
		return c.JSON(fiber.Map{"message": "delivery state changed, retry not applied"})
	}

	if err := tx.First(&delivery, "id = ?", id).Error; err != nil {
		return err
	}
	return c.JSON(delivery)
}

// GetEvents lists outbox events for operator visibility.
func GetEvents(c *fiber.Ctx) error {
	tx, err := database.GetTenantDB(c)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "tenant context missing")
	}

	q := tx.Model(&models.OutboxEvent{}).Order("created_at DESC")
	if et := c.Query("event_type"); et != "" {
		q = q.Where("event_type = ?", et)
	}
	if c.Query("unpublished") == "true" {
		q = q.Where("published_at IS NULL")
	}
	limit := utils.ParseIntDefault(c.Query("limit"), 50)
	if limit > 200 {
		limit = 200
	}

	var events []models.OutboxEvent
	if err := q.Limit(limit).Find(&events).Error; err != nil {
		return err
	}
	return c.JSON(fiber.Map{"events": events})
}
