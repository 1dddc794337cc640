package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/terryholliday/proveniq-ledger/internal/audit"
	"github.com/terryholliday/proveniq-ledger/internal/ledgerstore"
)

// responseBodyCapBytes bounds how much of a receiver's response body is
// retained on a delivery row, per the component design's "body prefix (≤1000
// bytes)" rule.
const responseBodyCapBytes = 1000

// httpTimeout is the hard cancellation on every outbound delivery attempt.
const httpTimeout = 30 * time.Second

// Worker drains pending webhook deliveries. Many instances may run
// concurrently against the same store; Store.ClaimPending is responsible for
// ensuring each delivery is processed by exactly one worker at a time.
type Worker struct {
	id          string
	store       Store
	events      EventSource
	backoff     Backoff
	maxAttempts int
	client      *http.Client
	audit       audit.Logger
	logger      *slog.Logger
}

// NewWorker builds a Worker. maxAttempts is the dead-letter threshold; a
// value <= 0 falls back to the package default MaxAttempts.
func NewWorker(id string, store Store, events EventSource, backoff Backoff, maxAttempts int, auditLogger audit.Logger, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if maxAttempts <= 0 {
		maxAttempts = MaxAttempts
	}
	return &Worker{
		id:          id,
		store:       store,
		events:      events,
		backoff:     backoff,
		maxAttempts: maxAttempts,
		client:      &http.Client{Timeout: httpTimeout},
		audit:       auditLogger,
		logger:      logger,
	}
}

// deliveryPayload is the JSON body POSTed to a subscriber.
type deliveryPayload struct {
	EventID        string          `json:"event_id"`
	SubscriptionID string          `json:"subscription_id"`
	Timestamp      string          `json:"timestamp"`
	Data           json.RawMessage `json:"data"`
}

// ProcessBatch claims up to batchSize pending deliveries and attempts each
// one, returning how many were processed.
func (w *Worker) ProcessBatch(ctx context.Context, batchSize int) (int, error) {
	now := time.Now().UTC()
	deliveries, err := w.store.ClaimPending(ctx, w.id, batchSize, now)
	if err != nil {
		return 0, fmt.Errorf("webhook: claim pending: %w", err)
	}
	for _, d := range deliveries {
		w.process(ctx, d)
	}
	return len(deliveries), nil
}

// Run polls ProcessBatch on an interval (~30s, per the component's
// background-sleep suspension point) until ctx is cancelled.
func (w *Worker) Run(ctx context.Context, batchSize int, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := w.ProcessBatch(ctx, batchSize); err != nil {
			w.logger.ErrorContext(ctx, "webhook: batch failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) process(ctx context.Context, d ledgerstore.WebhookDelivery) {
	sub, err := w.store.GetSubscription(ctx, d.SubscriptionID)
	if err != nil || !sub.Active {
		w.fail(ctx, d, "subscription missing or inactive")
		return
	}

	entry, err := w.events.GetByID(ctx, d.EventID)
	if err != nil {
		w.fail(ctx, d, "event missing: "+err.Error())
		return
	}

	body, err := json.Marshal(deliveryPayload{
		EventID:        entry.ID,
		SubscriptionID: sub.ID,
		Timestamp:      time.Now().UTC().Format(time.RFC3339Nano),
		Data:           entry.Payload,
	})
	if err != nil {
		w.fail(ctx, d, "marshal payload: "+err.Error())
		return
	}

	status, respBody, err := w.deliver(ctx, sub, body)
	if err != nil {
		w.fail(ctx, d, err.Error())
		return
	}
	if status >= 200 && status < 300 {
		if markErr := w.store.MarkDelivered(ctx, d.ID, status, respBody); markErr != nil {
			w.logger.ErrorContext(ctx, "webhook: mark delivered failed", "delivery_id", d.ID, "error", markErr)
		}
		return
	}

	w.fail(ctx, d, fmt.Sprintf("non-2xx response: %d", status))
}

func (w *Worker) deliver(ctx context.Context, sub ledgerstore.Subscription, body []byte) (int, string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, httpTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, sub.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return 0, "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Proveniq-Signature", sign(sub.Secret, body))
	req.Header.Set("X-Proveniq-Timestamp", time.Now().UTC().Format(time.RFC3339))
	req.Header.Set("X-Proveniq-Subscription-Id", sub.ID)

	resp, err := w.client.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("transport: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyCapBytes))
	return resp.StatusCode, string(respBody), nil
}

// fail increments attempts and either schedules the next retry or
// dead-letters the delivery once attempts exceed maxAttempts — by default
// the sixth failure following five scheduled retries at
// 60s/120s/240s/480s/960s.
func (w *Worker) fail(ctx context.Context, d ledgerstore.WebhookDelivery, reason string) {
	attempts := d.Attempts + 1

	if attempts > w.maxAttempts {
		if err := w.store.MarkDeadLetter(ctx, d.ID, attempts, reason); err != nil {
			w.logger.ErrorContext(ctx, "webhook: mark dead letter failed", "delivery_id", d.ID, "error", err)
			return
		}
		snapshot, _ := json.Marshal(d)
		if entry, err := w.events.GetByID(ctx, d.EventID); err == nil {
			snapshot, _ = json.Marshal(entry)
		}
		if err := w.store.InsertDeadLetter(ctx, ledgerstore.DeadLetter{
			ID:             d.ID,
			DeliveryID:     d.ID,
			SubscriptionID: d.SubscriptionID,
			EventID:        d.EventID,
			EventSnapshot:  snapshot,
			FailureReason:  reason,
			CreatedAt:      time.Now().UTC(),
		}); err != nil {
			w.logger.ErrorContext(ctx, "webhook: insert dead letter failed", "delivery_id", d.ID, "error", err)
		}
		if w.audit != nil {
			w.audit.Record(ctx, audit.Entry{
				EventType: audit.EventDeadLetter,
				Subject:   d.ID,
				Action:    "webhook_dead_lettered",
				Detail:    map[string]string{"reason": reason, "attempts": fmt.Sprintf("%d", attempts)},
			})
		}
		return
	}

	nextRetryAt := time.Now().UTC().Add(w.backoff.Delay(attempts))
	if err := w.store.MarkRetrying(ctx, d.ID, attempts, reason, nextRetryAt); err != nil {
		w.logger.ErrorContext(ctx, "webhook: mark retrying failed", "delivery_id", d.ID, "error", err)
	}
}
