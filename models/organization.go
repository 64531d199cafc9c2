package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Organization is a tenant. Each organization owns a dedicated Postgres
// schema holding its resources, bookings, subscriptions and the reliability
// pipeline tables.
type Organization struct {
	Id         string `json:"id" gorm:"primaryKey"`
	Name       string `json:"name" gorm:"not null;unique"`
	UserId     string `json:"-"`
	User       User   `json:"user" gorm:"foreignKey:UserId;references:Id"`
	SchemaName string `json:"-" gorm:"unique;not null"`
}

func (org *Organization) BeforeCreate(tx *gorm.DB) (err error) {
	// UUID version 4
	org.Id = uuid.NewString()
	return
}
