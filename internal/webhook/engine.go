// Package webhook implements at-least-once webhook delivery: subscription
// matching against a freshly committed ledger entry, HMAC-signed POSTs with a
// hard timeout, exponential backoff with no jitter, and a dead-letter queue
// once failures exceed MaxAttempts (the sixth failure, after five retries).
package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/terryholliday/proveniq-ledger/internal/ledgerstore"
)

// MaxAttempts is the dead-letter threshold: a delivery is retried after each
// of its first MaxAttempts failures and moved to dead_letter on the next one.
const MaxAttempts = 5

// Engine matches freshly committed entries against active subscriptions and
// enqueues pending deliveries. It satisfies appendengine.WebhookEnqueuer.
type Engine struct {
	store Store
	cache SubscriptionCache
}

func NewEngine(store Store, cache SubscriptionCache) *Engine {
	return &Engine{store: store, cache: cache}
}

// EnqueueForEvent matches entry against every active subscription and
// inserts one pending WebhookDelivery per match, with next_retry_at now —
// the matching rule from the delivery-engine component design: active is
// true, and (event_types empty or contains entry.EventType), and
// (source_filter empty or contains entry.Source).
func (e *Engine) EnqueueForEvent(ctx context.Context, entry ledgerstore.LedgerEntry) error {
	subs, err := e.activeSubscriptions(ctx)
	if err != nil {
		return fmt.Errorf("webhook: load subscriptions: %w", err)
	}

	now := time.Now().UTC()
	for _, sub := range subs {
		if !matches(sub, entry) {
			continue
		}
		delivery := ledgerstore.WebhookDelivery{
			ID:             uuid.New().String(),
			SubscriptionID: sub.ID,
			EventID:        entry.ID,
			Status:         ledgerstore.DeliveryPending,
			Attempts:       0,
			NextRetryAt:    now,
		}
		if err := e.store.EnqueueDelivery(ctx, delivery); err != nil {
			return fmt.Errorf("webhook: enqueue delivery for subscription %s: %w", sub.ID, err)
		}
	}
	return nil
}

func (e *Engine) activeSubscriptions(ctx context.Context) ([]ledgerstore.Subscription, error) {
	if e.cache != nil {
		if subs, ok := e.cache.Get(ctx); ok {
			return subs, nil
		}
	}
	subs, err := e.store.ListActiveSubscriptions(ctx)
	if err != nil {
		return nil, err
	}
	if e.cache != nil {
		e.cache.Set(ctx, subs)
	}
	return subs, nil
}

// matches implements the subscription-matching predicate.
func matches(sub ledgerstore.Subscription, entry ledgerstore.LedgerEntry) bool {
	if !sub.Active {
		return false
	}
	if len(sub.EventTypes) > 0 && !contains(sub.EventTypes, entry.EventType) {
		return false
	}
	if len(sub.SourceFilter) > 0 && !contains(sub.SourceFilter, entry.Source) {
		return false
	}
	return true
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
