package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"buchung-backend/models"

	"gorm.io/gorm"
)

// Job is a claimed delivery joined with the event to send and the target
// subscription. It carries everything an attempt needs so no further reads
// happen once the claim transaction committed.
type Job struct {
	DeliveryID     string
	EventID        string
	EventType      string
	SchemaVersion  int
	Payload        json.RawMessage
	EventCreatedAt time.Time
	AttemptCount   int
	URL            string
	Secret         string
}

// Store is the storage surface the delivery worker runs against. All mutual
// exclusion lives here: ClaimDue must hand each due delivery to at most one
// caller, enforced with conditional updates rather than in-process locks.
type Store interface {
	ClaimDue(ctx context.Context, limit int, now time.Time) ([]Job, error)
	MarkSucceeded(ctx context.Context, deliveryID string, attemptCount int, now time.Time) error
	MarkFailed(ctx context.Context, deliveryID string, attemptCount int, nextAttemptAt time.Time, lastError string, now time.Time) error
	MarkExhausted(ctx context.Context, deliveryID string, attemptCount int, lastError string, now time.Time) error
	// ReleaseStale flips delivering rows last touched before cutoff back to
	// failed and due now, so deliveries orphaned by a crashed worker are
	// retried.
	ReleaseStale(ctx context.Context, cutoff, now time.Time) (int64, error)
}

// GormStore implements Store on a GORM connection. schema may be empty when
// the handle is already tenant-scoped (request transactions, sqlite tests);
// otherwise every operation runs in a short transaction pinned with
// SET LOCAL search_path, matching how the request middlewares pin tenants.
type GormStore struct {
	db     *gorm.DB
	schema string
}

func NewGormStore(db *gorm.DB, schema string) *GormStore {
	return &GormStore{db: db, schema: schema}
}

func (s *GormStore) tenantTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return pinnedTx(ctx, s.db, s.schema, fn)
}

// pinnedTx runs fn in a short transaction, pinned to the tenant schema via
// SET LOCAL when one is given. SET LOCAL reverts at transaction end, so the
// pooled connection never leaks the search_path.
func pinnedTx(ctx context.Context, db *gorm.DB, schema string, fn func(tx *gorm.DB) error) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if schema != "" {
			if err := tx.Exec(`SET LOCAL search_path = "` + schema + `", public`).Error; err != nil {
				return fmt.Errorf("pin tenant schema: %w", err)
			}
		}
		return fn(tx)
	})
}

func (s *GormStore) ClaimDue(ctx context.Context, limit int, now time.Time) ([]Job, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("claim: batch size must be positive")
	}

	var jobs []Job
	err := s.tenantTx(ctx, func(tx *gorm.DB) error {
		var candidates []models.WebhookDelivery
		if err := tx.
			Where("status IN ? AND next_attempt_at <= ?",
				[]models.DeliveryStatus{models.DeliveryPending, models.DeliveryFailed}, now).
			Order("next_attempt_at ASC").
			Limit(limit).
			Find(&candidates).Error; err != nil {
			return err
		}

		for _, d := range candidates {
			// Conditional update is the claim: the status predicate makes sure
			// only one worker wins the row.
			res := tx.Model(&models.WebhookDelivery{}).
				Where("id = ? AND status = ?", d.Id, d.Status).
				Updates(map[string]any{
					"status":     models.DeliveryDelivering,
					"updated_at": now,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected != 1 {
				continue // lost the race to another worker
			}

			var sub models.WebhookSubscription
			if err := tx.First(&sub, "id = ?", d.SubscriptionID).Error; err != nil {
				// Subscription gone: the lineage can never complete.
				tx.Model(&models.WebhookDelivery{}).
					Where("id = ?", d.Id).
					Updates(map[string]any{
						"status":     models.DeliveryExhausted,
						"last_error": "subscription no longer exists",
						"updated_at": now,
					})
				continue
			}
			var ev models.OutboxEvent
			if err := tx.First(&ev, "id = ?", d.EventID).Error; err != nil {
				return err
			}

			jobs = append(jobs, Job{
				DeliveryID:     d.Id,
				EventID:        ev.Id,
				EventType:      ev.EventType,
				SchemaVersion:  ev.SchemaVersion,
				Payload:        json.RawMessage(ev.Payload),
				EventCreatedAt: ev.CreatedAt,
				AttemptCount:   d.AttemptCount,
				URL:            sub.Url,
				Secret:         sub.Secret,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

func (s *GormStore) MarkSucceeded(ctx context.Context, deliveryID string, attemptCount int, now time.Time) error {
	return s.resolve(ctx, deliveryID, map[string]any{
		"status":        models.DeliverySucceeded,
		"attempt_count": attemptCount,
		"last_error":    "",
		"updated_at":    now,
	})
}

func (s *GormStore) MarkFailed(ctx context.Context, deliveryID string, attemptCount int, nextAttemptAt time.Time, lastError string, now time.Time) error {
	return s.resolve(ctx, deliveryID, map[string]any{
		"status":          models.DeliveryFailed,
		"attempt_count":   attemptCount,
		"next_attempt_at": nextAttemptAt,
		"last_error":      truncateError(lastError),
		"updated_at":      now,
	})
}

func (s *GormStore) MarkExhausted(ctx context.Context, deliveryID string, attemptCount int, lastError string, now time.Time) error {
	return s.resolve(ctx, deliveryID, map[string]any{
		"status":        models.DeliveryExhausted,
		"attempt_count": attemptCount,
		"last_error":    truncateError(lastError),
		"updated_at":    now,
	})
}

// resolve finishes a claimed attempt. The delivering predicate keeps a late
// resolution from clobbering a row the takeover sweep already released.
func (s *GormStore) resolve(ctx context.Context, deliveryID string, updates map[string]any) error {
	return s.tenantTx(ctx, func(tx *gorm.DB) error {
		res := tx.Model(&models.WebhookDelivery{}).
			Where("id = ? AND status = ?", deliveryID, models.DeliveryDelivering).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return fmt.Errorf("delivery %s no longer claimed", deliveryID)
		}
		return nil
	})
}

func (s *GormStore) ReleaseStale(ctx context.Context, cutoff, now time.Time) (int64, error) {
	var released int64
	err := s.tenantTx(ctx, func(tx *gorm.DB) error {
		res := tx.Model(&models.WebhookDelivery{}).
			Where("status = ? AND updated_at < ?", models.DeliveryDelivering, cutoff).
			Updates(map[string]any{
				"status":          models.DeliveryFailed,
				"next_attempt_at": now,
				"last_error":      "claim expired without resolution",
				"updated_at":      now,
			})
		released = res.RowsAffected
		return res.Error
	})
	return released, err
}

func truncateError(s string) string {
	const max = 1024
	if len(s) > max {
		return s[:max]
	}
	return s
}
