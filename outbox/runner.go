package outbox

import (
	"context"
	"time"

	"buchung-backend/database"

	"gorm.io/gorm"
)

// Runner drives the pipeline: on every tick it walks all tenant schemas and,
// per tenant, releases stale claims, schedules unpublished events, drains due
// deliveries and sweeps expired idempotency records. It stops when the
// context is cancelled, so shutdown is deterministic.
type Runner struct {
	opts Options
}

func NewRunner(opts Options) *Runner {
	opts.setDefaults()
	return &Runner{opts: opts}
}

// Run processes tenants until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()

	for {
		r.tick(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// tick runs one full pass over every tenant. A failing tenant is logged and
// skipped; it must not block the others.
func (r *Runner) tick(ctx context.Context) {
	schemas, err := database.ListTenantSchemas()
	if err != nil {
		r.opts.Logger.Error("list tenant schemas: %v", err)
		return
	}

	for _, schema := range schemas {
		if ctx.Err() != nil {
			return
		}
		if err := r.processTenant(ctx, schema); err != nil {
			r.opts.Logger.Error("tenant %s: %v", schema, err)
		}
	}
}

func (r *Runner) processTenant(ctx context.Context, schema string) error {
	now := r.opts.Now().UTC()
	store := NewGormStore(database.DB, schema)

	if released, err := store.ReleaseStale(ctx, now.Add(-r.opts.LivenessTimeout), now); err != nil {
		r.opts.Logger.Error("release stale claims in %s: %v", schema, err)
	} else if released > 0 {
		r.opts.Logger.Warn("released %d stale deliveries in %s", released, schema)
	}

	scheduler := NewScheduler(database.DB, schema, r.opts)
	if _, err := scheduler.ProcessOnce(ctx); err != nil {
		return err
	}

	worker := NewWorker(store, r.opts)
	if _, err := worker.ProcessBatch(ctx, r.opts.BatchSize); err != nil {
		return err
	}

	return pinnedTx(ctx, database.DB, schema, func(tx *gorm.DB) error {
		_, err := database.SweepExpiredIdempotencyKeys(tx, now)
		return err
	})
}
