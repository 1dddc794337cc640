package webhook

import (
	"context"
	"time"

	"github.com/terryholliday/proveniq-ledger/internal/ledgerstore"
)

// Store is the persistence contract the delivery engine depends on: creating
// pending deliveries at enqueue time, claiming a batch for a worker, and
// recording the outcome of each attempt. Separate from ledgerstore.Store
// because deliveries are mutable, retried rows, unlike the immutable chain.
type Store interface {
	ListActiveSubscriptions(ctx context.Context) ([]ledgerstore.Subscription, error)
	GetSubscription(ctx context.Context, id string) (ledgerstore.Subscription, error)
	CreateSubscription(ctx context.Context, sub ledgerstore.Subscription) error
	DeleteSubscription(ctx context.Context, id string) error

	EnqueueDelivery(ctx context.Context, d ledgerstore.WebhookDelivery) error

	// ClaimPending selects up to limit pending deliveries whose
	// next_retry_at <= now, ordered by next_retry_at ascending, and marks
	// them claimed by workerID so no other worker picks them up
	// concurrently. Implementations use a row-level lock (FOR UPDATE SKIP
	// LOCKED on Postgres) to make this safe across many worker instances.
	ClaimPending(ctx context.Context, workerID string, limit int, now time.Time) ([]ledgerstore.WebhookDelivery, error)

	MarkDelivered(ctx context.Context, deliveryID string, responseStatus int, responseBody string) error
	MarkRetrying(ctx context.Context, deliveryID string, attempts int, lastErr string, nextRetryAt time.Time) error
	MarkDeadLetter(ctx context.Context, deliveryID string, attempts int, lastErr string) error

	InsertDeadLetter(ctx context.Context, dl ledgerstore.DeadLetter) error
	ListDeadLetters(ctx context.Context, limit, offset int) ([]ledgerstore.DeadLetter, error)
	GetDeadLetter(ctx context.Context, id string) (ledgerstore.DeadLetter, error)

	Stats(ctx context.Context) (Stats, error)
}

// Stats backs GET /webhooks/stats.
type Stats struct {
	Pending    int64 `json:"pending"`
	Delivered  int64 `json:"delivered"`
	Failed     int64 `json:"failed"`
	DeadLetter int64 `json:"dead_letter"`
}

// EventSource loads the ledger entry a delivery is carrying, so the worker
// can build the outbound payload.
type EventSource interface {
	GetByID(ctx context.Context, id string) (ledgerstore.LedgerEntry, error)
}
