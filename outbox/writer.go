package outbox

import (
	"encoding/json"
	"fmt"

	"buchung-backend/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Append records a domain event inside the caller's open transaction. The
// caller is responsible for atomicity: Append performs a single insert and no
// transaction management, so the event commits or rolls back together with
// the business mutation. The event type must belong to the closed enum.
func Append(tx *gorm.DB, eventType string, payload any) (*models.OutboxEvent, error) {
	if tx == nil {
		return nil, fmt.Errorf("outbox append: nil transaction")
	}
	if !models.KnownEventType(eventType) {
		return nil, fmt.Errorf("outbox append: unknown event type %q", eventType)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("outbox append: marshal payload: %w", err)
	}

	ev := &models.OutboxEvent{
		EventType:     eventType,
		SchemaVersion: models.EventSchemaVersion,
		Payload:       datatypes.JSON(raw),
	}
	if err := tx.Create(ev).Error; err != nil {
		return nil, fmt.Errorf("outbox append: %w", err)
	}
	return ev, nil
}
