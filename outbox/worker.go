package outbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Envelope is the JSON body POSTed to subscribers.
type Envelope struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	SchemaVersion int             `json:"schema_version"`
	Timestamp     time.Time       `json:"timestamp"`
	Data          json.RawMessage `json:"data"`
}

// Worker drains due deliveries: claim, sign, POST, record the outcome. A
// failed item never stops the batch; its error is recorded on the row and the
// loop moves on. Multiple worker instances may run against the same tables,
// coordination happens entirely in the Store's conditional updates.
type Worker struct {
	store  Store
	client *http.Client
	opts   Options
}

func NewWorker(store Store, opts Options) *Worker {
	opts.setDefaults()
	return &Worker{
		store:  store,
		client: &http.Client{Timeout: opts.AttemptTimeout},
		opts:   opts,
	}
}

// ProcessBatch claims at most limit due deliveries and attempts each one.
// Returns the number of claimed deliveries.
func (w *Worker) ProcessBatch(ctx context.Context, limit int) (int, error) {
	jobs, err := w.store.ClaimDue(ctx, limit, w.opts.Now().UTC())
	if err != nil {
		return 0, err
	}
	for _, job := range jobs {
		w.attempt(ctx, job)
	}
	return len(jobs), nil
}

// attempt performs one signed send and transitions the delivery. The outbound
// call happens strictly after the claim, never before.
func (w *Worker) attempt(ctx context.Context, job Job) {
	attempt := job.AttemptCount + 1
	now := w.opts.Now().UTC()

	sendErr := w.send(ctx, job)
	if sendErr == nil {
		if err := w.store.MarkSucceeded(ctx, job.DeliveryID, attempt, now); err != nil {
			w.opts.Logger.Error("mark succeeded delivery=%s: %v", job.DeliveryID, err)
		}
		return
	}

	if attempt >= w.opts.MaxAttempts {
		if err := w.store.MarkExhausted(ctx, job.DeliveryID, attempt, sendErr.Error(), now); err != nil {
			w.opts.Logger.Error("mark exhausted delivery=%s: %v", job.DeliveryID, err)
			return
		}
		w.opts.Logger.Warn("delivery %s exhausted after %d attempts: %v", job.DeliveryID, attempt, sendErr)
		return
	}

	delay := w.opts.Backoff(attempt)
	if err := w.store.MarkFailed(ctx, job.DeliveryID, attempt, now.Add(delay), sendErr.Error(), now); err != nil {
		w.opts.Logger.Error("mark failed delivery=%s: %v", job.DeliveryID, err)
		return
	}
	w.opts.Logger.Warn("delivery %s attempt %d failed, retry in %s: %v", job.DeliveryID, attempt, delay, sendErr)
}

// send builds the envelope, signs it and POSTs it with a bounded timeout.
// Any non-2xx response counts as a failed attempt.
func (w *Worker) send(ctx context.Context, job Job) error {
	body, err := json.Marshal(Envelope{
		ID:            job.EventID,
		Type:          job.EventType,
		SchemaVersion: job.SchemaVersion,
		Timestamp:     job.EventCreatedAt.UTC(),
		Data:          job.Payload,
	})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, w.opts.AttemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, job.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, Sign(body, job.Secret))
	req.Header.Set("X-Webhook-Id", job.DeliveryID)

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer func(body io.ReadCloser) { _ = body.Close() }(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("subscriber responded with %s", resp.Status)
	}
	return nil
}
