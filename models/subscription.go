package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// WebhookSubscription is a tenant-registered delivery target. The secret is
// generated at creation, shown exactly once in the creation (or rotation)
// response and excluded from JSON everywhere else.
type WebhookSubscription struct {
	Id          string    `json:"id" gorm:"primaryKey"`
	Url         string    `json:"url" gorm:"size:2048;not null"`
	Secret      string    `json:"-" gorm:"size:128;not null"`
	EventFilter string    `json:"event_filter" gorm:"size:64;not null;default:'*'"` // "*" or one event type
	Active      bool      `json:"active" gorm:"not null;default:true"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (s *WebhookSubscription) BeforeCreate(tx *gorm.DB) (err error) {
	// UUID version 4
	if s.Id == "" {
		s.Id = uuid.NewString()
	}
	return
}

// Matches reports whether the subscription wants the given event type.
func (s *WebhookSubscription) Matches(eventType string) bool {
	return s.EventFilter == "*" || s.EventFilter == eventType
}
