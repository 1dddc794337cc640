package webhook

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/terryholliday/proveniq-ledger/internal/ledgerstore"
)

// SQLStore implements Store over database/sql, mirroring
// ledgerstore.SQLStore's placeholder-and-driver split. Claiming pending
// deliveries uses "SELECT ... FOR UPDATE SKIP LOCKED" on Postgres —
// the same pattern the teacher's postgres_ledger.go uses for
// AcquireNextPending — so many worker instances can drain the queue without
// blocking each other. SQLite (no SKIP LOCKED) falls back to a plain
// select-then-update inside a transaction, acceptable because SQLite-backed
// tests run a single worker at a time.
type SQLStore struct {
	db     *sql.DB
	driver ledgerstore.Driver
}

func NewSQLStore(db *sql.DB, driver ledgerstore.Driver) *SQLStore {
	return &SQLStore{db: db, driver: driver}
}

const webhookSchemaDDL = `
CREATE TABLE IF NOT EXISTS event_subscriptions (
	id TEXT PRIMARY KEY,
	subscriber_id TEXT NOT NULL,
	webhook_url TEXT NOT NULL,
	event_types TEXT,
	source_filter TEXT,
	secret TEXT NOT NULL,
	active BOOLEAN NOT NULL DEFAULT TRUE
);
CREATE TABLE IF NOT EXISTS webhook_deliveries (
	id TEXT PRIMARY KEY,
	subscription_id TEXT NOT NULL,
	event_id TEXT NOT NULL,
	status TEXT NOT NULL,
	attempts INTEGER NOT NULL DEFAULT 0,
	last_attempt_at TEXT,
	next_retry_at TEXT NOT NULL,
	last_error TEXT,
	response_status INTEGER,
	response_body TEXT,
	claimed_by TEXT,
	claimed_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_pending ON webhook_deliveries(next_retry_at) WHERE status = 'pending';
CREATE TABLE IF NOT EXISTS dead_letter_queue (
	id TEXT PRIMARY KEY,
	delivery_id TEXT NOT NULL,
	subscription_id TEXT NOT NULL,
	event_id TEXT NOT NULL,
	event_snapshot TEXT,
	failure_reason TEXT,
	created_at TEXT NOT NULL
);
`

func (s *SQLStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, webhookSchemaDDL)
	return err
}

func (s *SQLStore) ph(n int) string {
	if s.driver == ledgerstore.DriverPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (s *SQLStore) ListActiveSubscriptions(ctx context.Context) ([]ledgerstore.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, subscriber_id, webhook_url, event_types, source_filter, secret, active FROM event_subscriptions WHERE active = TRUE")
	if err != nil {
		return nil, fmt.Errorf("webhook: list active subscriptions: %w", err)
	}
	defer rows.Close()

	var out []ledgerstore.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSubscription(row scanner) (ledgerstore.Subscription, error) {
	var sub ledgerstore.Subscription
	var eventTypes, sourceFilter sql.NullString
	if err := row.Scan(&sub.ID, &sub.SubscriberID, &sub.WebhookURL, &eventTypes, &sourceFilter, &sub.Secret, &sub.Active); err != nil {
		return ledgerstore.Subscription{}, fmt.Errorf("webhook: scan subscription: %w", err)
	}
	sub.EventTypes = splitCSV(eventTypes.String)
	sub.SourceFilter = splitCSV(sourceFilter.String)
	return sub, nil
}

func (s *SQLStore) GetSubscription(ctx context.Context, id string) (ledgerstore.Subscription, error) {
	row := s.db.QueryRowContext(ctx, "SELECT id, subscriber_id, webhook_url, event_types, source_filter, secret, active FROM event_subscriptions WHERE id = "+s.ph(1), id)
	sub, err := scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledgerstore.Subscription{}, ledgerstore.ErrNotFound
	}
	return sub, err
}

func (s *SQLStore) CreateSubscription(ctx context.Context, sub ledgerstore.Subscription) error {
	q := fmt.Sprintf(`INSERT INTO event_subscriptions (id, subscriber_id, webhook_url, event_types, source_filter, secret, active)
		VALUES (%s,%s,%s,%s,%s,%s,%s)`, s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6), s.ph(7))
	_, err := s.db.ExecContext(ctx, q, sub.ID, sub.SubscriberID, sub.WebhookURL, joinCSV(sub.EventTypes), joinCSV(sub.SourceFilter), sub.Secret, sub.Active)
	return err
}

func (s *SQLStore) DeleteSubscription(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM event_subscriptions WHERE id = "+s.ph(1), id)
	return err
}

func (s *SQLStore) EnqueueDelivery(ctx context.Context, d ledgerstore.WebhookDelivery) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	q := fmt.Sprintf(`INSERT INTO webhook_deliveries
		(id, subscription_id, event_id, status, attempts, next_retry_at)
		VALUES (%s,%s,%s,%s,%s,%s)`, s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6))
	_, err := s.db.ExecContext(ctx, q, d.ID, d.SubscriptionID, d.EventID, string(ledgerstore.DeliveryPending), 0, d.NextRetryAt.Format(time.RFC3339Nano))
	return err
}

// ClaimPending selects up to limit pending deliveries due now, locking them
// against concurrent claims. Postgres uses FOR UPDATE SKIP LOCKED in a
// transaction; SQLite (single-worker in tests) uses a plain transaction.
func (s *SQLStore) ClaimPending(ctx context.Context, workerID string, limit int, now time.Time) ([]ledgerstore.WebhookDelivery, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("webhook: begin claim tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	lockClause := ""
	if s.driver == ledgerstore.DriverPostgres {
		lockClause = " FOR UPDATE SKIP LOCKED"
	}
	q := fmt.Sprintf(`SELECT id, subscription_id, event_id, status, attempts, next_retry_at
		FROM webhook_deliveries WHERE status = %s AND next_retry_at <= %s
		ORDER BY next_retry_at ASC LIMIT %s%s`, s.ph(1), s.ph(2), s.ph(3), lockClause)

	rows, err := tx.QueryContext(ctx, q, string(ledgerstore.DeliveryPending), now.Format(time.RFC3339Nano), limit)
	if err != nil {
		return nil, fmt.Errorf("webhook: select pending: %w", err)
	}

	var claimed []ledgerstore.WebhookDelivery
	for rows.Next() {
		var d ledgerstore.WebhookDelivery
		var status, nextRetryAt string
		if err := rows.Scan(&d.ID, &d.SubscriptionID, &d.EventID, &status, &d.Attempts, &nextRetryAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("webhook: scan pending: %w", err)
		}
		d.Status = ledgerstore.DeliveryStatus(status)
		claimed = append(claimed, d)
	}
	rows.Close()

	for _, d := range claimed {
		if _, err := tx.ExecContext(ctx, "UPDATE webhook_deliveries SET claimed_by = "+s.ph(1)+" WHERE id = "+s.ph(2), workerID, d.ID); err != nil {
			return nil, fmt.Errorf("webhook: claim: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("webhook: commit claim: %w", err)
	}
	return claimed, nil
}

func (s *SQLStore) MarkDelivered(ctx context.Context, deliveryID string, responseStatus int, responseBody string) error {
	q := fmt.Sprintf(`UPDATE webhook_deliveries SET status=%s, response_status=%s, response_body=%s, last_attempt_at=%s WHERE id=%s`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5))
	_, err := s.db.ExecContext(ctx, q, string(ledgerstore.DeliveryDelivered), responseStatus, truncate(responseBody, responseBodyCapBytes), time.Now().UTC().Format(time.RFC3339Nano), deliveryID)
	return err
}

func (s *SQLStore) MarkRetrying(ctx context.Context, deliveryID string, attempts int, lastErr string, nextRetryAt time.Time) error {
	q := fmt.Sprintf(`UPDATE webhook_deliveries SET status=%s, attempts=%s, last_error=%s, next_retry_at=%s, last_attempt_at=%s WHERE id=%s`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6))
	_, err := s.db.ExecContext(ctx, q, string(ledgerstore.DeliveryPending), attempts, lastErr, nextRetryAt.Format(time.RFC3339Nano), time.Now().UTC().Format(time.RFC3339Nano), deliveryID)
	return err
}

func (s *SQLStore) MarkDeadLetter(ctx context.Context, deliveryID string, attempts int, lastErr string) error {
	q := fmt.Sprintf(`UPDATE webhook_deliveries SET status=%s, attempts=%s, last_error=%s, last_attempt_at=%s WHERE id=%s`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5))
	_, err := s.db.ExecContext(ctx, q, string(ledgerstore.DeliveryDeadLetter), attempts, lastErr, time.Now().UTC().Format(time.RFC3339Nano), deliveryID)
	return err
}

func (s *SQLStore) InsertDeadLetter(ctx context.Context, dl ledgerstore.DeadLetter) error {
	q := fmt.Sprintf(`INSERT INTO dead_letter_queue (id, delivery_id, subscription_id, event_id, event_snapshot, failure_reason, created_at)
		VALUES (%s,%s,%s,%s,%s,%s,%s)`, s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6), s.ph(7))
	_, err := s.db.ExecContext(ctx, q, dl.ID, dl.DeliveryID, dl.SubscriptionID, dl.EventID, string(dl.EventSnapshot), dl.FailureReason, dl.CreatedAt.Format(time.RFC3339Nano))
	return err
}

func (s *SQLStore) ListDeadLetters(ctx context.Context, limit, offset int) ([]ledgerstore.DeadLetter, error) {
	q := fmt.Sprintf(`SELECT id, delivery_id, subscription_id, event_id, event_snapshot, failure_reason, created_at
		FROM dead_letter_queue ORDER BY created_at DESC LIMIT %s OFFSET %s`, s.ph(1), s.ph(2))
	rows, err := s.db.QueryContext(ctx, q, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("webhook: list dead letters: %w", err)
	}
	defer rows.Close()

	var out []ledgerstore.DeadLetter
	for rows.Next() {
		var dl ledgerstore.DeadLetter
		var snapshot, createdAt string
		if err := rows.Scan(&dl.ID, &dl.DeliveryID, &dl.SubscriptionID, &dl.EventID, &snapshot, &dl.FailureReason, &createdAt); err != nil {
			return nil, fmt.Errorf("webhook: scan dead letter: %w", err)
		}
		dl.EventSnapshot = []byte(snapshot)
		dl.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, dl)
	}
	return out, rows.Err()
}

func (s *SQLStore) GetDeadLetter(ctx context.Context, id string) (ledgerstore.DeadLetter, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT id, delivery_id, subscription_id, event_id, event_snapshot, failure_reason, created_at
		FROM dead_letter_queue WHERE id = %s`, s.ph(1)), id)
	var dl ledgerstore.DeadLetter
	var snapshot, createdAt string
	err := row.Scan(&dl.ID, &dl.DeliveryID, &dl.SubscriptionID, &dl.EventID, &snapshot, &dl.FailureReason, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ledgerstore.DeadLetter{}, ledgerstore.ErrNotFound
	}
	if err != nil {
		return ledgerstore.DeadLetter{}, fmt.Errorf("webhook: get dead letter: %w", err)
	}
	dl.EventSnapshot = []byte(snapshot)
	dl.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return dl, nil
}

func (s *SQLStore) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	row := s.db.QueryRowContext(ctx, `SELECT
		COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN status = 'delivered' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN status = 'dead_letter' THEN 1 ELSE 0 END), 0)
		FROM webhook_deliveries`)
	err := row.Scan(&stats.Pending, &stats.Delivered, &stats.Failed, &stats.DeadLetter)
	return stats, err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func joinCSV(items []string) string {
	out := ""
	for i, item := range items {
		if i > 0 {
			out += ","
		}
		out += item
	}
	return out
}
