package outbox

import (
	"log"
	"time"
)

// Logger captures pipeline logs; implementors can wrap slog/zap/etc.
type Logger interface {
	Info(format string, v ...any)
	Warn(format string, v ...any)
	Error(format string, v ...any)
}

// Options configure the scheduler, worker and runner.
type Options struct {
	// PollInterval is the sleep duration between runner cycles.
	PollInterval time.Duration
	// BatchSize caps how many events/deliveries one cycle picks up per tenant.
	BatchSize int
	// MaxAttempts is the total number of send tries before a delivery is exhausted.
	MaxAttempts int
	// MaxPublishAttempts caps scheduling retries for a single event so a
	// poison row cannot occupy the scan forever.
	MaxPublishAttempts int
	// AttemptTimeout bounds a single outbound HTTP attempt.
	AttemptTimeout time.Duration
	// LivenessTimeout is how long a claimed (delivering) row may sit untouched
	// before the takeover sweep releases it for retry.
	LivenessTimeout time.Duration
	// Backoff computes the retry delay based on attempt count.
	Backoff Backoff
	// Logger emits pipeline activity.
	Logger Logger
	// Now supplies the current time; override in tests.
	Now func() time.Time
}

func (o *Options) setDefaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 50
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 8
	}
	if o.MaxPublishAttempts <= 0 {
		o.MaxPublishAttempts = 10
	}
	if o.AttemptTimeout <= 0 {
		o.AttemptTimeout = 10 * time.Second
	}
	if o.LivenessTimeout <= 0 {
		o.LivenessTimeout = time.Minute
	}
	if o.Backoff == nil {
		o.Backoff = Exponential(10*time.Second, 2.0, 15*time.Minute)
	}
	if o.Logger == nil {
		o.Logger = stdLogger{}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// stdLogger routes pipeline logs through the standard library logger.
type stdLogger struct{}

func (stdLogger) Info(format string, v ...any)  { log.Printf("outbox: "+format, v...) }
func (stdLogger) Warn(format string, v ...any)  { log.Printf("outbox: warn: "+format, v...) }
func (stdLogger) Error(format string, v ...any) { log.Printf("outbox: error: "+format, v...) }
