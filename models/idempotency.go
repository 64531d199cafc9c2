package models

import "time"

// Idempotency record lifecycle.
const (
	IdempotencyInProgress = "in_progress"
	IdempotencyCompleted  = "completed"
)

// IdempotencyKey records one client-issued mutating request. The unique index
// over (key, method, path) closes the race between two concurrent requests
// bearing the same key; tenant scope comes from the schema the row lives in.
// Rows past ExpiresAt are treated as absent and purged by a background sweep.
type IdempotencyKey struct {
	ID             uint      `json:"id" gorm:"primaryKey"`
	Key            string    `json:"key" gorm:"size:128;not null;uniqueIndex:idx_idempotency_scope,priority:1"`
	Method         string    `json:"method" gorm:"size:10;not null;uniqueIndex:idx_idempotency_scope,priority:2"`
	Path           string    `json:"path" gorm:"size:255;not null;uniqueIndex:idx_idempotency_scope,priority:3"`
	PayloadHash    string    `json:"payload_hash" gorm:"size:64;not null"` // sha256 of the raw request body
	Status         string    `json:"status" gorm:"size:16;not null"`
	ResponseStatus int       `json:"response_status"`
	ResponseBody   []byte    `json:"-" gorm:"type:bytea"`
	ExpiresAt      time.Time `json:"expires_at" gorm:"index"`
	CreatedAt      time.Time `json:"created_at"`
}

// Expired reports whether the record should be treated as absent.
func (k *IdempotencyKey) Expired(now time.Time) bool {
	return now.After(k.ExpiresAt)
}
