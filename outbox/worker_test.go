package outbox_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"buchung-backend/outbox"
)

// fakeStore hands out a fixed set of jobs and records how the worker
// resolved each of them.
type fakeStore struct {
	mu        sync.Mutex
	jobs      []outbox.Job
	succeeded map[string]int
	failed    map[string]time.Time
	exhausted map[string]string
}

func newFakeStore(jobs ...outbox.Job) *fakeStore {
	return &fakeStore{
		jobs:      jobs,
		succeeded: map[string]int{},
		failed:    map[string]time.Time{},
		exhausted: map[string]string{},
	}
}

func (f *fakeStore) ClaimDue(ctx context.Context, limit int, now time.Time) ([]outbox.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if limit > len(f.jobs) {
		limit = len(f.jobs)
	}
	claimed := f.jobs[:limit]
	f.jobs = f.jobs[limit:]
	return claimed, nil
}

func (f *fakeStore) MarkSucceeded(ctx context.Context, deliveryID string, attemptCount int, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.succeeded[deliveryID] = attemptCount
	return nil
}

func (f *fakeStore) MarkFailed(ctx context.Context, deliveryID string, attemptCount int, nextAttemptAt time.Time, lastError string, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[deliveryID] = nextAttemptAt
	return nil
}

func (f *fakeStore) MarkExhausted(ctx context.Context, deliveryID string, attemptCount int, lastError string, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exhausted[deliveryID] = lastError
	return nil
}

func (f *fakeStore) ReleaseStale(ctx context.Context, cutoff, now time.Time) (int64, error) {
	return 0, nil
}

func TestWorkerDeliversSignedEnvelope(t *testing.T) {
	var (
		gotBody      []byte
		gotSignature string
		gotDelivery  string
		gotType      string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSignature = r.Header.Get(outbox.SignatureHeader)
		gotDelivery = r.Header.Get("X-Webhook-Id")
		gotType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	job := outbox.Job{
		DeliveryID:     "d1",
		EventID:        "e1",
		EventType:      "booking.created",
		SchemaVersion:  1,
		Payload:        json.RawMessage(`{"booking_id":"b1"}`),
		EventCreatedAt: created,
		AttemptCount:   0,
		URL:            srv.URL,
		Secret:         "topsecret",
	}
	store := newFakeStore(job)

	w := outbox.NewWorker(store, outbox.Options{MaxAttempts: 3})
	n, err := w.ProcessBatch(context.Background(), 10)
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if n != 1 {
		t.Fatalf("processed %d, want 1", n)
	}
	if got := store.succeeded["d1"]; got != 1 {
		t.Fatalf("succeeded attempt count = %d, want 1", got)
	}

	if gotType != "application/json" {
		t.Fatalf("content type = %q", gotType)
	}
	if gotDelivery != "d1" {
		t.Fatalf("X-Webhook-Id = %q, want d1", gotDelivery)
	}
	if !outbox.VerifySignature(gotBody, "topsecret", gotSignature) {
		t.Fatal("signature does not verify against the exact bytes")
	}

	var env outbox.Envelope
	if err := json.Unmarshal(gotBody, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.ID != "e1" || env.Type != "booking.created" || env.SchemaVersion != 1 {
		t.Fatalf("envelope header fields wrong: %+v", env)
	}
	if !env.Timestamp.Equal(created) {
		t.Fatalf("envelope timestamp = %v, want %v", env.Timestamp, created)
	}
	if string(env.Data) != `{"booking_id":"b1"}` {
		t.Fatalf("envelope data = %s", env.Data)
	}
}

func TestWorkerSchedulesRetryWithBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	job := outbox.Job{
		DeliveryID:   "d1",
		EventID:      "e1",
		EventType:    "booking.created",
		Payload:      json.RawMessage(`{}`),
		AttemptCount: 0,
		URL:          srv.URL,
		Secret:       "s",
	}
	store := newFakeStore(job)

	w := outbox.NewWorker(store, outbox.Options{
		MaxAttempts: 5,
		Backoff:     outbox.Exponential(time.Minute, 2, time.Hour),
		Now:         clock.Now,
	})
	if _, err := w.ProcessBatch(context.Background(), 10); err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}

	next, ok := store.failed["d1"]
	if !ok {
		t.Fatalf("delivery not marked failed: %+v", store)
	}
	want := clock.Now().Add(time.Minute) // first attempt backs off by base
	if !next.Equal(want) {
		t.Fatalf("next attempt = %v, want %v", next, want)
	}
	if len(store.succeeded) != 0 || len(store.exhausted) != 0 {
		t.Fatalf("unexpected resolutions: %+v", store)
	}
}

func TestWorkerExhaustsAtMaxAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	job := outbox.Job{
		DeliveryID:   "d1",
		EventID:      "e1",
		EventType:    "booking.created",
		Payload:      json.RawMessage(`{}`),
		AttemptCount: 2, // this attempt is the third and last
		URL:          srv.URL,
		Secret:       "s",
	}
	store := newFakeStore(job)

	w := outbox.NewWorker(store, outbox.Options{MaxAttempts: 3})
	if _, err := w.ProcessBatch(context.Background(), 10); err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}

	lastErr, ok := store.exhausted["d1"]
	if !ok {
		t.Fatalf("delivery not exhausted: %+v", store)
	}
	if lastErr == "" {
		t.Fatal("exhaustion must record the final error")
	}
	if len(store.failed) != 0 {
		t.Fatalf("exhausted delivery must not also be marked failed: %+v", store)
	}
}

func TestWorkerIsolatesFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	bad := outbox.Job{
		DeliveryID: "d-bad",
		EventID:    "e1",
		EventType:  "booking.created",
		Payload:    json.RawMessage(`{}`),
		URL:        "http://127.0.0.1:0", // unroutable, connection fails fast
		Secret:     "s",
	}
	good := outbox.Job{
		DeliveryID: "d-good",
		EventID:    "e2",
		EventType:  "booking.created",
		Payload:    json.RawMessage(`{}`),
		URL:        srv.URL,
		Secret:     "s",
	}
	store := newFakeStore(bad, good)

	w := outbox.NewWorker(store, outbox.Options{MaxAttempts: 3})
	n, err := w.ProcessBatch(context.Background(), 10)
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if n != 2 {
		t.Fatalf("processed %d, want 2", n)
	}
	if _, ok := store.failed["d-bad"]; !ok {
		t.Fatalf("bad endpoint should be marked failed: %+v", store)
	}
	if store.succeeded["d-good"] != 1 {
		t.Fatalf("good endpoint should still succeed: %+v", store)
	}
}
