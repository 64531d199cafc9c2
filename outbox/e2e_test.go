package outbox_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"buchung-backend/models"
	"buchung-backend/outbox"

	"gorm.io/gorm"
)

// Drives an event through the whole pipeline against a subscriber that fails
// twice before accepting: write in a transaction, schedule, deliver with
// retries, and verify the recorded attempt history.
func TestPipelineRetriesUntilSubscriberAccepts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	db := openTestDB(t)
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	opts := outbox.Options{
		MaxAttempts: 5,
		Backoff:     outbox.Exponential(time.Minute, 2, time.Hour),
		Now:         clock.Now,
	}

	sub := models.WebhookSubscription{Url: srv.URL, Secret: "s", EventFilter: "*", Active: true}
	mustCreate(t, db, &sub)

	// The event is written inside the same transaction as a business
	// mutation would be.
	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := outbox.Append(tx, models.EventBookingCreated, map[string]string{"booking_id": "b1"})
		return err
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	ctx := context.Background()
	sched := outbox.NewScheduler(db, "", opts)
	if _, err := sched.ProcessOnce(ctx); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	store := outbox.NewGormStore(db, "")
	worker := outbox.NewWorker(store, opts)

	// Attempt 1: subscriber 500s, retry in 1 minute.
	if n, err := worker.ProcessBatch(ctx, 10); err != nil || n != 1 {
		t.Fatalf("first batch: n=%d err=%v", n, err)
	}
	d := loadOnlyDelivery(t, db)
	if d.Status != models.DeliveryFailed || d.AttemptCount != 1 {
		t.Fatalf("after attempt 1: status=%s attempts=%d", d.Status, d.AttemptCount)
	}
	firstRetryAt := d.NextAttemptAt

	// Not due yet: nothing to claim.
	if n, _ := worker.ProcessBatch(ctx, 10); n != 0 {
		t.Fatalf("claimed %d before retry time", n)
	}

	// Attempt 2 at +2m: still failing, backoff grows.
	clock.Advance(2 * time.Minute)
	if n, err := worker.ProcessBatch(ctx, 10); err != nil || n != 1 {
		t.Fatalf("second batch: n=%d err=%v", n, err)
	}
	d = loadOnlyDelivery(t, db)
	if d.Status != models.DeliveryFailed || d.AttemptCount != 2 {
		t.Fatalf("after attempt 2: status=%s attempts=%d", d.Status, d.AttemptCount)
	}
	if !d.NextAttemptAt.After(firstRetryAt) {
		t.Fatalf("retry schedule must move forward: %v then %v", firstRetryAt, d.NextAttemptAt)
	}

	// Attempt 3 at +5m: subscriber recovers.
	clock.Advance(5 * time.Minute)
	if n, err := worker.ProcessBatch(ctx, 10); err != nil || n != 1 {
		t.Fatalf("third batch: n=%d err=%v", n, err)
	}
	d = loadOnlyDelivery(t, db)
	if d.Status != models.DeliverySucceeded || d.AttemptCount != 3 {
		t.Fatalf("after attempt 3: status=%s attempts=%d", d.Status, d.AttemptCount)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("subscriber saw %d calls, want 3", got)
	}

	// Nothing left to do.
	if n, _ := worker.ProcessBatch(ctx, 10); n != 0 {
		t.Fatalf("claimed %d after success", n)
	}
}

func loadOnlyDelivery(t *testing.T, db *gorm.DB) models.WebhookDelivery {
	t.Helper()
	var deliveries []models.WebhookDelivery
	if err := db.Find(&deliveries).Error; err != nil {
		t.Fatalf("load deliveries: %v", err)
	}
	if len(deliveries) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(deliveries))
	}
	return deliveries[0]
}
