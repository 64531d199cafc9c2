package outbox_test

import (
	"errors"
	"testing"

	"buchung-backend/models"
	"buchung-backend/outbox"

	"gorm.io/gorm"
)

func TestAppendCommitsWithTransaction(t *testing.T) {
	db := openTestDB(t)

	var eventID string
	err := db.Transaction(func(tx *gorm.DB) error {
		ev, err := outbox.Append(tx, models.EventBookingCreated, map[string]any{"booking_id": "b1"})
		if err != nil {
			return err
		}
		eventID = ev.Id
		return nil
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}

	var ev models.OutboxEvent
	if err := db.First(&ev, "id = ?", eventID).Error; err != nil {
		t.Fatalf("event not persisted: %v", err)
	}
	if ev.EventType != models.EventBookingCreated {
		t.Fatalf("event type = %q, want %q", ev.EventType, models.EventBookingCreated)
	}
	if ev.SchemaVersion != models.EventSchemaVersion {
		t.Fatalf("schema version = %d, want %d", ev.SchemaVersion, models.EventSchemaVersion)
	}
	if ev.PublishedAt != nil {
		t.Fatal("fresh event must not be published")
	}
}

func TestAppendRollsBackWithTransaction(t *testing.T) {
	db := openTestDB(t)

	boom := errors.New("business mutation failed")
	err := db.Transaction(func(tx *gorm.DB) error {
		if _, err := outbox.Append(tx, models.EventBookingCreated, map[string]any{"booking_id": "b1"}); err != nil {
			t.Fatalf("append: %v", err)
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("transaction error = %v, want %v", err, boom)
	}

	var count int64
	db.Model(&models.OutboxEvent{}).Count(&count)
	if count != 0 {
		t.Fatalf("outbox rows after rollback = %d, want 0", count)
	}
}

func TestAppendRejectsUnknownEventType(t *testing.T) {
	db := openTestDB(t)

	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := outbox.Append(tx, "invoice.created", map[string]any{})
		return err
	})
	if err == nil {
		t.Fatal("expected error for unknown event type")
	}

	var count int64
	db.Model(&models.OutboxEvent{}).Count(&count)
	if count != 0 {
		t.Fatalf("outbox rows = %d, want 0", count)
	}
}

func TestAppendRequiresTransaction(t *testing.T) {
	if _, err := outbox.Append(nil, models.EventBookingCreated, map[string]any{}); err == nil {
		t.Fatal("expected error for nil transaction")
	}
}
