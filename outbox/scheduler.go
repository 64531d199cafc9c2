package outbox

import (
	"context"
	"time"

	"buchung-backend/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Scheduler expands committed outbox events into one pending delivery per
// matching active subscription. It doubles as the crash-recovery sweep: any
// event left with published_at NULL (process died between commit and
// scheduling) is picked up again on the next scan, and the unique
// (event_id, subscription_id) index makes re-invocation create zero
// additional rows.
type Scheduler struct {
	db     *gorm.DB
	schema string
	opts   Options
}

func NewScheduler(db *gorm.DB, schema string, opts Options) *Scheduler {
	opts.setDefaults()
	return &Scheduler{db: db, schema: schema, opts: opts}
}

// ScheduleEvent creates pending deliveries for every active subscription that
// matches the event type. Idempotent: pairs that already have a delivery row
// are skipped via ON CONFLICT DO NOTHING. Returns the number of rows created.
func (s *Scheduler) ScheduleEvent(tx *gorm.DB, ev *models.OutboxEvent, now time.Time) (int, error) {
	var subs []models.WebhookSubscription
	if err := tx.Where("active = ?", true).Find(&subs).Error; err != nil {
		return 0, err
	}

	created := 0
	for i := range subs {
		if !subs[i].Matches(ev.EventType) {
			continue
		}
		d := models.WebhookDelivery{
			SubscriptionID: subs[i].Id,
			EventID:        ev.Id,
			Status:         models.DeliveryPending,
			AttemptCount:   0,
			NextAttemptAt:  now,
		}
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "event_id"}, {Name: "subscription_id"}},
			DoNothing: true,
		}).Create(&d)
		if res.Error != nil {
			return created, res.Error
		}
		created += int(res.RowsAffected)
	}
	return created, nil
}

// ProcessOnce scans unpublished events oldest-first and schedules them.
// published_at means "handed to the delivery layer", not "received by any
// subscriber"; publish_attempts keeps a poison event from occupying the scan
// past the configured ceiling. Returns the number of events published.
func (s *Scheduler) ProcessOnce(ctx context.Context) (int, error) {
	now := s.opts.Now().UTC()

	var events []models.OutboxEvent
	err := pinnedTx(ctx, s.db, s.schema, func(tx *gorm.DB) error {
		return tx.
			Where("published_at IS NULL AND publish_attempts < ?", s.opts.MaxPublishAttempts).
			Order("created_at ASC").
			Limit(s.opts.BatchSize).
			Find(&events).Error
	})
	if err != nil {
		return 0, err
	}

	published := 0
	for i := range events {
		ev := events[i]
		err := pinnedTx(ctx, s.db, s.schema, func(tx *gorm.DB) error {
			if _, err := s.ScheduleEvent(tx, &ev, now); err != nil {
				return err
			}
			return tx.Model(&models.OutboxEvent{}).
				Where("id = ?", ev.Id).
				Updates(map[string]any{
					"published_at":     now,
					"publish_attempts": gorm.Expr("publish_attempts + 1"),
				}).Error
		})
		if err != nil {
			// Bookkeeping outside the failed transaction so the attempt counts.
			_ = pinnedTx(ctx, s.db, s.schema, func(tx *gorm.DB) error {
				return tx.Model(&models.OutboxEvent{}).
					Where("id = ?", ev.Id).
					Update("publish_attempts", gorm.Expr("publish_attempts + 1")).Error
			})
			s.opts.Logger.Error("schedule event %s: %v", ev.Id, err)
			continue
		}
		published++
	}
	return published, nil
}
