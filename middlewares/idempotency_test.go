package middlewares_test

import (
	"fmt"
	"testing"
	"time"

	"buchung-backend/database"
	"buchung-backend/middlewares"
	"buchung-backend/models"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:idem_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap sql.DB: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(&models.IdempotencyKey{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestBeginIdempotentFresh(t *testing.T) {
	db := openTestDB(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	hash := middlewares.HashPayload([]byte(`{"name":"Raum A"}`))

	outcome, rec, err := middlewares.BeginIdempotent(db, "key-1", "POST", "/api/resources", hash, 24*time.Hour, now)
	if err != nil {
		t.Fatalf("BeginIdempotent: %v", err)
	}
	if outcome != middlewares.IdempotencyFresh {
		t.Fatalf("outcome = %v, want fresh", outcome)
	}
	if rec == nil || rec.ID == 0 {
		t.Fatal("fresh outcome must return the inserted record")
	}
	if rec.Status != models.IdempotencyInProgress {
		t.Fatalf("status = %s, want in_progress", rec.Status)
	}
	if !rec.ExpiresAt.Equal(now.Add(24 * time.Hour)) {
		t.Fatalf("expires at = %v", rec.ExpiresAt)
	}
}

func TestBeginIdempotentReplaysCompletedResponse(t *testing.T) {
	db := openTestDB(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	body := []byte(`{"name":"Raum A"}`)
	hash := middlewares.HashPayload(body)

	_, rec, err := middlewares.BeginIdempotent(db, "key-1", "POST", "/api/resources", hash, 24*time.Hour, now)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	resp := []byte(`{"resource":{"id":"r1"}}`)
	if err := middlewares.CompleteIdempotent(db, rec.ID, 201, resp); err != nil {
		t.Fatalf("complete: %v", err)
	}

	outcome, replay, err := middlewares.BeginIdempotent(db, "key-1", "POST", "/api/resources", hash, 24*time.Hour, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("retry begin: %v", err)
	}
	if outcome != middlewares.IdempotencyReplay {
		t.Fatalf("outcome = %v, want replay", outcome)
	}
	if replay.ResponseStatus != 201 || string(replay.ResponseBody) != string(resp) {
		t.Fatalf("cached response = %d %s", replay.ResponseStatus, replay.ResponseBody)
	}

	var count int64
	db.Model(&models.IdempotencyKey{}).Count(&count)
	if count != 1 {
		t.Fatalf("records = %d, want 1 (replay must not insert)", count)
	}
}

func TestBeginIdempotentConflictOnDifferentPayload(t *testing.T) {
	db := openTestDB(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	_, rec, err := middlewares.BeginIdempotent(db, "key-1", "POST", "/api/resources",
		middlewares.HashPayload([]byte(`{"name":"Raum A"}`)), 24*time.Hour, now)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := middlewares.CompleteIdempotent(db, rec.ID, 201, []byte(`{}`)); err != nil {
		t.Fatalf("complete: %v", err)
	}

	outcome, _, err := middlewares.BeginIdempotent(db, "key-1", "POST", "/api/resources",
		middlewares.HashPayload([]byte(`{"name":"Raum B"}`)), 24*time.Hour, now)
	if err != nil {
		t.Fatalf("conflicting begin: %v", err)
	}
	if outcome != middlewares.IdempotencyConflict {
		t.Fatalf("outcome = %v, want conflict for reused key with different body", outcome)
	}
}

func TestBeginIdempotentConflictWhileInFlight(t *testing.T) {
	db := openTestDB(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	hash := middlewares.HashPayload([]byte(`{"name":"Raum A"}`))

	if _, _, err := middlewares.BeginIdempotent(db, "key-1", "POST", "/api/resources", hash, 24*time.Hour, now); err != nil {
		t.Fatalf("begin: %v", err)
	}

	// Same key, same body, but the first request has not completed yet.
	outcome, _, err := middlewares.BeginIdempotent(db, "key-1", "POST", "/api/resources", hash, 24*time.Hour, now)
	if err != nil {
		t.Fatalf("duplicate begin: %v", err)
	}
	if outcome != middlewares.IdempotencyConflict {
		t.Fatalf("outcome = %v, want conflict while original is in flight", outcome)
	}
}

func TestBeginIdempotentTreatsExpiredAsAbsent(t *testing.T) {
	db := openTestDB(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	hash := middlewares.HashPayload([]byte(`{}`))

	_, rec, err := middlewares.BeginIdempotent(db, "key-1", "POST", "/api/bookings", hash, time.Hour, now)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := middlewares.CompleteIdempotent(db, rec.ID, 201, []byte(`{"booking":{"id":"b1"}}`)); err != nil {
		t.Fatalf("complete: %v", err)
	}

	// Past the TTL the record no longer replays; the operation runs again.
	outcome, fresh, err := middlewares.BeginIdempotent(db, "key-1", "POST", "/api/bookings", hash, time.Hour, now.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("begin after expiry: %v", err)
	}
	if outcome != middlewares.IdempotencyFresh {
		t.Fatalf("outcome = %v, want fresh after expiry", outcome)
	}
	if fresh.ID == rec.ID {
		t.Fatal("expired record must be replaced, not reused")
	}
}

func TestDiscardFreesKeyForRetry(t *testing.T) {
	db := openTestDB(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	hash := middlewares.HashPayload([]byte(`{}`))

	_, rec, err := middlewares.BeginIdempotent(db, "key-1", "POST", "/api/bookings", hash, time.Hour, now)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := middlewares.DiscardIdempotent(db, rec.ID); err != nil {
		t.Fatalf("discard: %v", err)
	}

	outcome, _, err := middlewares.BeginIdempotent(db, "key-1", "POST", "/api/bookings", hash, time.Hour, now)
	if err != nil {
		t.Fatalf("retry begin: %v", err)
	}
	if outcome != middlewares.IdempotencyFresh {
		t.Fatalf("outcome = %v, want fresh after discard", outcome)
	}
}

func TestSameKeyDifferentOperationIsIndependent(t *testing.T) {
	db := openTestDB(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	hash := middlewares.HashPayload([]byte(`{}`))

	if _, _, err := middlewares.BeginIdempotent(db, "key-1", "POST", "/api/resources", hash, time.Hour, now); err != nil {
		t.Fatalf("begin: %v", err)
	}

	// The tuple is (key, method, path): the same key on another endpoint is
	// a distinct record, not a conflict.
	outcome, _, err := middlewares.BeginIdempotent(db, "key-1", "POST", "/api/bookings", hash, time.Hour, now)
	if err != nil {
		t.Fatalf("begin other path: %v", err)
	}
	if outcome != middlewares.IdempotencyFresh {
		t.Fatalf("outcome = %v, want fresh for different path", outcome)
	}
}

func TestSweepExpiredIdempotencyKeys(t *testing.T) {
	db := openTestDB(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	hash := middlewares.HashPayload([]byte(`{}`))

	if _, _, err := middlewares.BeginIdempotent(db, "old", "POST", "/api/resources", hash, time.Hour, now.Add(-2*time.Hour)); err != nil {
		t.Fatalf("begin old: %v", err)
	}
	if _, _, err := middlewares.BeginIdempotent(db, "live", "POST", "/api/resources", hash, time.Hour, now); err != nil {
		t.Fatalf("begin live: %v", err)
	}

	swept, err := database.SweepExpiredIdempotencyKeys(db, now)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if swept != 1 {
		t.Fatalf("swept = %d, want 1", swept)
	}

	var keys []models.IdempotencyKey
	db.Find(&keys)
	if len(keys) != 1 || keys[0].Key != "live" {
		t.Fatalf("remaining keys = %+v, want only the live one", keys)
	}
}

func TestHashPayloadIsDeterministic(t *testing.T) {
	a := middlewares.HashPayload([]byte(`{"name":"Raum A"}`))
	b := middlewares.HashPayload([]byte(`{"name":"Raum A"}`))
	c := middlewares.HashPayload([]byte(`{"name":"Raum B"}`))
	if a != b {
		t.Fatal("same body must hash equal")
	}
	if a == c {
		t.Fatal("different bodies must hash differently")
	}
	if len(a) != 64 {
		t.Fatalf("hash length = %d, want 64 hex chars", len(a))
	}
}
