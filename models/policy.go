package models

import (
	"fmt"
	"time"
)

// BookingPolicy holds the per-resource booking rules. One row per resource;
// durations are stored in minutes so they survive JSON round trips unchanged.
type BookingPolicy struct {
	ID                  uint      `json:"id" gorm:"primaryKey"`
	ResourceID          string    `json:"resource_id" gorm:"not null;uniqueIndex"`
	Resource            Resource  `json:"-" gorm:"foreignKey:ResourceID;references:Id;constraint:OnDelete:CASCADE"`
	MinDurationMinutes  int       `json:"min_duration_minutes" gorm:"not null;default:30"`
	MaxDurationMinutes  int       `json:"max_duration_minutes" gorm:"not null;default:480"`
	LeadTimeMinutes     int       `json:"lead_time_minutes" gorm:"not null;default:0"`
	CancellationMinutes int       `json:"cancellation_minutes" gorm:"not null;default:60"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// CheckWindow validates a proposed booking window against the policy.
func (p *BookingPolicy) CheckWindow(start, end, now time.Time) error {
	d := end.Sub(start)
	if d < time.Duration(p.MinDurationMinutes)*time.Minute {
		return fmt.Errorf("booking shorter than the minimum of %d minutes", p.MinDurationMinutes)
	}
	if d > time.Duration(p.MaxDurationMinutes)*time.Minute {
		return fmt.Errorf("booking longer than the maximum of %d minutes", p.MaxDurationMinutes)
	}
	if start.Before(now.Add(time.Duration(p.LeadTimeMinutes) * time.Minute)) {
		return fmt.Errorf("booking must start at least %d minutes from now", p.LeadTimeMinutes)
	}
	return nil
}

// Cancellable reports whether a booking starting at start may still be
// cancelled at now.
func (p *BookingPolicy) Cancellable(start, now time.Time) bool {
	return now.Before(start.Add(-time.Duration(p.CancellationMinutes) * time.Minute))
}
