package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Booking states.
const (
	BookingPending   = "PENDING"
	BookingConfirmed = "CONFIRMED"
	BookingCancelled = "CANCELLED"
)

// Booking reserves a resource for [StartsAt, EndsAt).
type Booking struct {
	Id         string    `json:"id" gorm:"primaryKey"`
	ResourceID string    `json:"resource_id" gorm:"not null;index:idx_bookings_resource_window,priority:1"`
	Resource   Resource  `json:"-" gorm:"foreignKey:ResourceID;references:Id;constraint:OnUpdate:RESTRICT,OnDelete:RESTRICT"`
	UserID     string    `json:"user_id" gorm:"size:128;not null;index"`
	StartsAt   time.Time `json:"starts_at" gorm:"not null;index:idx_bookings_resource_window,priority:2"`
	EndsAt     time.Time `json:"ends_at" gorm:"not null"`
	Status     string    `json:"status" gorm:"size:16;not null;index"`
	TotalPrice float64   `json:"total_price" gorm:"type:numeric(12,2)"`
	Note       string    `json:"note"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (b *Booking) BeforeCreate(tx *gorm.DB) (err error) {
	// UUID version 4
	if b.Id == "" {
		b.Id = uuid.NewString()
	}
	if b.Status == "" {
		b.Status = BookingPending
	}
	return
}
