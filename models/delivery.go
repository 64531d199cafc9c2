package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DeliveryStatus is the state of one webhook delivery lineage.
type DeliveryStatus string

const (
	DeliveryPending    DeliveryStatus = "pending"
	DeliveryDelivering DeliveryStatus = "delivering"
	DeliverySucceeded  DeliveryStatus = "succeeded"
	DeliveryFailed     DeliveryStatus = "failed"
	DeliveryExhausted  DeliveryStatus = "exhausted"
)

// deliveryTransitions encodes the legal state machine:
// pending -> delivering -> {succeeded | failed | exhausted};
// failed -> {pending, delivering} (due retry or manual retry);
// exhausted -> pending (manual retry only). Succeeded is terminal.
var deliveryTransitions = map[DeliveryStatus][]DeliveryStatus{
	DeliveryPending:    {DeliveryDelivering},
	DeliveryDelivering: {DeliverySucceeded, DeliveryFailed, DeliveryExhausted},
	DeliveryFailed:     {DeliveryPending, DeliveryDelivering},
	DeliveryExhausted:  {DeliveryPending},
	DeliverySucceeded:  {},
}

// CanTransition reports whether moving from s to next is legal.
func (s DeliveryStatus) CanTransition(next DeliveryStatus) bool {
	for _, allowed := range deliveryTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the status has no automatic outgoing transition.
func (s DeliveryStatus) Terminal() bool {
	return s == DeliverySucceeded || s == DeliveryExhausted
}

// WebhookDelivery tracks sending one event to one subscription. Exactly one
// row exists per (event, subscription) pair that was active at scheduling
// time; the unique index backs the scheduler's idempotency. NextAttemptAt is
// only meaningful while the row is pending or failed-with-retry-remaining.
type WebhookDelivery struct {
	Id             string         `json:"id" gorm:"primaryKey"`
	SubscriptionID string         `json:"subscription_id" gorm:"not null;index:idx_deliveries_event_subscription,unique,priority:2"`
	EventID        string         `json:"event_id" gorm:"not null;index:idx_deliveries_event_subscription,unique,priority:1"`
	Status         DeliveryStatus `json:"status" gorm:"size:16;not null;index:idx_deliveries_due,priority:1"`
	AttemptCount   int            `json:"attempt_count" gorm:"not null;default:0"`
	NextAttemptAt  time.Time      `json:"next_attempt_at" gorm:"index:idx_deliveries_due,priority:2"`
	LastError      string         `json:"last_error" gorm:"size:1024"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

func (d *WebhookDelivery) BeforeCreate(tx *gorm.DB) (err error) {
	// UUID version 4
	if d.Id == "" {
		d.Id = uuid.NewString()
	}
	return
}
