package controllers

import (
	"crypto/rand"
	"encoding/hex"

	"buchung-backend/database"
	"buchung-backend/middlewares"
	"buchung-backend/models"
	"buchung-backend/utils"

	"github.com/gofiber/fiber/v2"
)

type CreateSubscriptionDTO struct {
	Url         string `json:"url" validate:"required,url"`
	EventFilter string `json:"event_filter"`
}

type UpdateSubscriptionDTO struct {
	Url         *string `json:"url" validate:"omitempty,url"`
	EventFilter *string `json:"event_filter"`
	Active      *bool   `json:"active"`
}

// newWebhookSecret returns 32 random bytes, hex encoded.
func newWebhookSecret() (string, error) {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf[:]), nil
}

func validEventFilter(filter string) bool {
	return filter == "*" || models.KnownEventType(filter)
}

// CreateSubscription registers a delivery target. The secret appears in this
// response only; it is never readable again.
func CreateSubscription(c *fiber.Ctx) error {
	var dto CreateSubscriptionDTO
	if err := middlewares.BindAndValidate(c, &dto); err != nil {
		return err
	}

	filter := dto.EventFilter
	if filter == "" {
		filter = "*"
	}
	if !validEventFilter(filter) {
		c.Status(fiber.StatusBadRequest)
		return c.JSON(fiber.Map{"message": "unknown event type in event_filter"})
	}

	secret, err := newWebhookSecret()
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "could not generate secret")
	}

	tx, err := database.GetTenantDB(c)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "tenant context missing")
	}

	sub := models.WebhookSubscription{
		Url:         dto.Url,
		Secret:      secret,
		EventFilter: filter,
		Active:      true,
	}
	if err := tx.Create(&sub).Error; err != nil {
		c.Status(fiber.StatusBadRequest)
		return c.JSON(fiber.Map{"message": "Could not create subscription", "error": err.Error()})
	}

	c.Status(fiber.StatusCreated)
	return c.JSON(fiber.Map{"subscription": sub, "secret": secret})
}

func GetSubscriptions(c *fiber.Ctx) error {
	tx, err := database.GetTenantDB(c)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "tenant context missing")
	}

	var subs []models.WebhookSubscription
	if err := tx.Order("created_at").Find(&subs).Error; err != nil {
		return err
	}
	return c.JSON(fiber.Map{"subscriptions": subs})
}

func UpdateSubscription(c *fiber.Ctx) error {
	var dto UpdateSubscriptionDTO
	if err := middlewares.BindAndValidate(c, &dto); err != nil {
		return err
	}
	utils.NormalizePtrDTO(&dto)

	if dto.EventFilter != nil && !validEventFilter(*dto.EventFilter) {
		c.Status(fiber.StatusBadRequest)
		return c.JSON(fiber.Map{"message": "unknown event type in event_filter"})
	}

	updates := utils.UpdatesFromPtrDTO(&dto, nil)
	if len(updates) == 0 {
		c.Status(fiber.StatusBadRequest)
		return c.JSON(fiber.Map{"message": "no fields to update"})
	}

	tx, err := database.GetTenantDB(c)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "tenant context missing")
	}

	res := tx.Model(&models.WebhookSubscription{}).Where("id = ?", c.Params("id")).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		c.Status(fiber.StatusNotFound)
		return c.JSON(fiber.Map{"message": "subscription not found"})
	}

	var sub models.WebhookSubscription
	if err := tx.First(&sub, "id = ?", c.Params("id")).Error; err != nil {
		return err
	}
	return c.JSON(sub)
}

// RotateSecret replaces the subscription secret. The identity of the
// subscription (and its delivery history) is preserved; the new secret is
// returned exactly once.
func RotateSecret(c *fiber.Ctx) error {
	secret, err := newWebhookSecret()
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "could not generate secret")
	}

	tx, err := database.GetTenantDB(c)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "tenant context missing")
	}

	res := tx.Model(&models.WebhookSubscription{}).
		Where("id = ?", c.Params("id")).
		Update("secret", secret)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		c.Status(fiber.StatusNotFound)
		return c.JSON(fiber.Map{"message": "subscription not found"})
	}

	return c.JSON(fiber.Map{"id": c.Params("id"), "secret": secret})
}
