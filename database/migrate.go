package database

import (
	"fmt"

	"buchung-backend/models"

	"gorm.io/gorm"
)

// MigrateTenantSchema applies (idempotent) schema migrations for a single tenant schema.
// It pins search_path to the tenant and performs:
// - AutoMigrate (tables/columns)
// - Money column types (NUMERIC(12,2))
// - Indexes (delivery dedup + due scan, outbox recovery scan, idempotency scope + expiry sweep)
// - Foreign key: bookings.resource_id → resources.id
// - Basic CHECK constraints
func MigrateTenantSchema(schema string) error {
	if schema == "" {
		return fmt.Errorf("schema name is empty")
	}

	return DB.Transaction(func(tx *gorm.DB) error {
		// Pin the tenant schema for this transaction
		if err := tx.Exec(`SET search_path = "` + schema + `", public`).Error; err != nil {
			return fmt.Errorf("set search_path failed: %w", err)
		}

		// --- AutoMigrate tables/columns/index tags (non-destructive) ---
		if err := tx.AutoMigrate(
			&models.Resource{},
			&models.BookingPolicy{},
			&models.Booking{},
			&models.WebhookSubscription{},
			&models.OutboxEvent{},
			&models.WebhookDelivery{},
			&models.IdempotencyKey{},
		); err != nil {
			return fmt.Errorf("tenant automigrate failed: %w", err)
		}

		// --- Enforce money columns as NUMERIC(12,2) (idempotent ALTERs) ---
		alters := []string{
			`ALTER TABLE resources ALTER COLUMN hourly_rate TYPE numeric(12,2)`,
			`ALTER TABLE bookings  ALTER COLUMN total_price TYPE numeric(12,2)`,
		}
		for _, stmt := range alters {
			if err := tx.Exec(stmt).Error; err != nil {
				return fmt.Errorf("money type migration failed on: %s - %w", stmt, err)
			}
		}

		// --- Composite / helpful indexes (idempotent) ---
		indexes := []string{
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_deliveries_event_subscription ON webhook_deliveries (event_id, subscription_id)`,
			`CREATE INDEX IF NOT EXISTS idx_deliveries_due ON webhook_deliveries (status, next_attempt_at)`,
			`CREATE INDEX IF NOT EXISTS idx_outbox_unpublished ON outbox_events (created_at) WHERE published_at IS NULL`,
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_idempotency_scope ON idempotency_keys (key, method, path)`,
			`CREATE INDEX IF NOT EXISTS idx_idempotency_keys_expires_at ON idempotency_keys (expires_at)`,
			`CREATE INDEX IF NOT EXISTS idx_bookings_resource_window ON bookings (resource_id, starts_at)`,
		}
		for _, stmt := range indexes {
			if err := tx.Exec(stmt).Error; err != nil {
				return fmt.Errorf("index migration failed on: %s - %w", stmt, err)
			}
		}

		// --- Foreign key: bookings.resource_id -> resources.id (RESTRICT/RESTRICT) ---
		fk := `
DO $$
BEGIN
	IF NOT EXISTS (
		SELECT 1
		FROM pg_constraint
		WHERE conrelid = 'bookings'::regclass
		  AND conname  = 'fk_bookings_resource'
	) THEN
		ALTER TABLE bookings
		ADD CONSTRAINT fk_bookings_resource
		FOREIGN KEY (resource_id)
		REFERENCES resources(id)
		ON UPDATE RESTRICT
		ON DELETE RESTRICT;
	END IF;
END $$;`
		if err := tx.Exec(fk).Error; err != nil {
			return fmt.Errorf("foreign key migration failed: %w", err)
		}

		// --- Basic CHECK constraints (idempotent) ---
		checks := []string{
			// Non-negative hourly rate
			`DO $$
			BEGIN
				IF NOT EXISTS (
					SELECT 1 FROM pg_constraint
					WHERE conrelid = 'resources'::regclass
					  AND conname  = 'chk_resources_hourly_rate_nonneg'
				) THEN
					ALTER TABLE resources
					ADD CONSTRAINT chk_resources_hourly_rate_nonneg
					CHECK (hourly_rate >= 0);
				END IF;
			END $$;`,
			// Booking window must be non-empty
			`DO $$
			BEGIN
				IF NOT EXISTS (
					SELECT 1 FROM pg_constraint
					WHERE conrelid = 'bookings'::regclass
					  AND conname  = 'chk_bookings_window'
				) THEN
					ALTER TABLE bookings
					ADD CONSTRAINT chk_bookings_window
					CHECK (ends_at > starts_at);
				END IF;
			END $$;`,
			// Attempt counter only moves forward from zero
			`DO $$
			BEGIN
				IF NOT EXISTS (
					SELECT 1 FROM pg_constraint
					WHERE conrelid = 'webhook_deliveries'::regclass
					  AND conname  = 'chk_deliveries_attempts_nonneg'
				) THEN
					ALTER TABLE webhook_deliveries
					ADD CONSTRAINT chk_deliveries_attempts_nonneg
					CHECK (attempt_count >= 0);
				END IF;
			END $$;`,
		}
		for _, stmt := range checks {
			if err := tx.Exec(stmt).Error; err != nil {
				return fmt.Errorf("check constraint migration failed: %w", err)
			}
		}

		return nil
	})
}
