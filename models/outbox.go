package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// EventSchemaVersion is stamped on every outbox event so subscribers can
// detect payload format changes.
const EventSchemaVersion = 1

// Closed set of event types the outbox accepts.
const (
	EventResourceCreated  = "resource.created"
	EventResourceUpdated  = "resource.updated"
	EventBookingCreated   = "booking.created"
	EventBookingConfirmed = "booking.confirmed"
	EventBookingCancelled = "booking.cancelled"
	EventPolicyUpdated    = "policy.updated"
)

var knownEventTypes = map[string]struct{}{
	EventResourceCreated:  {},
	EventResourceUpdated:  {},
	EventBookingCreated:   {},
	EventBookingConfirmed: {},
	EventBookingCancelled: {},
	EventPolicyUpdated:    {},
}

// KnownEventType reports whether t belongs to the closed event type enum.
func KnownEventType(t string) bool {
	_, ok := knownEventTypes[t]
	return ok
}

// OutboxEvent is the durable record of a domain fact. It is written in the
// same transaction as the mutation it describes (tenant schema), so a rolled
// back mutation leaves no event behind. PublishedAt marks the event as handed
// to the delivery layer, not as received by any subscriber.
type OutboxEvent struct {
	Id              string         `json:"id" gorm:"primaryKey"`
	EventType       string         `json:"event_type" gorm:"size:64;not null;index"`
	SchemaVersion   int            `json:"schema_version" gorm:"not null;default:1"`
	Payload         datatypes.JSON `json:"payload" gorm:"type:jsonb"`
	PublishAttempts int            `json:"publish_attempts" gorm:"not null;default:0"`
	PublishedAt     *time.Time     `json:"published_at" gorm:"index"`
	CreatedAt       time.Time      `json:"created_at"`
}

func (ev *OutboxEvent) BeforeCreate(tx *gorm.DB) (err error) {
	// UUID version 4
	if ev.Id == "" {
		ev.Id = uuid.NewString()
	}
	if ev.SchemaVersion == 0 {
		ev.SchemaVersion = EventSchemaVersion
	}
	return
}
