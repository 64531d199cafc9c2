package outbox_test

import (
	"fmt"
	"testing"
	"time"

	"buchung-backend/models"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

// openTestDB returns an in-memory SQLite DB with the tenant tables migrated.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:outbox_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap sql.DB: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(
		&models.WebhookSubscription{},
		&models.OutboxEvent{},
		&models.WebhookDelivery{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// mustCreate inserts a record or fails the test.
func mustCreate(t *testing.T, db *gorm.DB, value any) {
	t.Helper()
	if err := db.Create(value).Error; err != nil {
		t.Fatalf("create %T: %v", value, err)
	}
}

// fakeClock is a controllable time source for scheduler/worker options.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }
