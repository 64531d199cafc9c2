package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Resource is a bookable unit (room, court, machine).
type Resource struct {
	Id          string    `json:"id" gorm:"primaryKey"`
	Name        string    `json:"name" gorm:"size:255;not null;unique"`
	Description string    `json:"description"`
	Capacity    int       `json:"capacity" gorm:"not null;default:1"`
	HourlyRate  float64   `json:"hourly_rate" gorm:"type:numeric(12,2)"`
	Active      bool      `json:"active" gorm:"not null;default:true"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (r *Resource) BeforeCreate(tx *gorm.DB) (err error) {
	// UUID version 4
	if r.Id == "" {
		r.Id = uuid.NewString()
	}
	return
}
