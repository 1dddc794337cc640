package webhook

import (
	"context"
	"sort"
	"time"

	"github.com/terryholliday/proveniq-ledger/internal/ledgerstore"
)

// fakeStore is an in-memory Store + EventSource used by this package's unit
// tests — no database, no mocks, just a map guarded by the single-goroutine
// assumption every test here makes.
type fakeStore struct {
	subs        map[string]ledgerstore.Subscription
	deliveries  []*ledgerstore.WebhookDelivery
	deadLetters map[string]ledgerstore.DeadLetter
	events      map[string]ledgerstore.LedgerEntry
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		subs:        map[string]ledgerstore.Subscription{},
		deadLetters: map[string]ledgerstore.DeadLetter{},
		events:      map[string]ledgerstore.LedgerEntry{},
	}
}

func (f *fakeStore) ListActiveSubscriptions(ctx context.Context) ([]ledgerstore.Subscription, error) {
	var out []ledgerstore.Subscription
	for _, s := range f.subs {
		if s.Active {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeStore) GetSubscription(ctx context.Context, id string) (ledgerstore.Subscription, error) {
	s, ok := f.subs[id]
	if !ok {
		return ledgerstore.Subscription{}, ledgerstore.ErrNotFound
	}
	return s, nil
}

func (f *fakeStore) CreateSubscription(ctx context.Context, sub ledgerstore.Subscription) error {
	f.subs[sub.ID] = sub
	return nil
}

func (f *fakeStore) DeleteSubscription(ctx context.Context, id string) error {
	delete(f.subs, id)
	return nil
}

func (f *fakeStore) EnqueueDelivery(ctx context.Context, d ledgerstore.WebhookDelivery) error {
	cp := d
	f.deliveries = append(f.deliveries, &cp)
	return nil
}

func (f *fakeStore) ClaimPending(ctx context.Context, workerID string, limit int, now time.Time) ([]ledgerstore.WebhookDelivery, error) {
	var eligible []*ledgerstore.WebhookDelivery
	for _, d := range f.deliveries {
		if d.Status == ledgerstore.DeliveryPending && !d.NextRetryAt.After(now) {
			eligible = append(eligible, d)
		}
	}
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].NextRetryAt.Before(eligible[j].NextRetryAt) })

	var claimed []ledgerstore.WebhookDelivery
	for _, d := range eligible {
		if len(claimed) >= limit {
			break
		}
		d.ClaimedBy = workerID
		claimed = append(claimed, *d)
	}
	return claimed, nil
}

func (f *fakeStore) find(id string) *ledgerstore.WebhookDelivery {
	for _, d := range f.deliveries {
		if d.ID == id {
			return d
		}
	}
	return nil
}

func (f *fakeStore) MarkDelivered(ctx context.Context, deliveryID string, responseStatus int, responseBody string) error {
	d := f.find(deliveryID)
	if d == nil {
		return ledgerstore.ErrNotFound
	}
	d.Status = ledgerstore.DeliveryDelivered
	d.ResponseStatus = responseStatus
	d.ResponseBody = responseBody
	return nil
}

func (f *fakeStore) MarkRetrying(ctx context.Context, deliveryID string, attempts int, lastErr string, nextRetryAt time.Time) error {
	d := f.find(deliveryID)
	if d == nil {
		return ledgerstore.ErrNotFound
	}
	d.Status = ledgerstore.DeliveryPending
	d.Attempts = attempts
	d.LastError = lastErr
	d.NextRetryAt = nextRetryAt
	return nil
}

func (f *fakeStore) MarkDeadLetter(ctx context.Context, deliveryID string, attempts int, lastErr string) error {
	d := f.find(deliveryID)
	if d == nil {
		return ledgerstore.ErrNotFound
	}
	d.Status = ledgerstore.DeliveryDeadLetter
	d.Attempts = attempts
	d.LastError = lastErr
	return nil
}

func (f *fakeStore) InsertDeadLetter(ctx context.Context, dl ledgerstore.DeadLetter) error {
	f.deadLetters[dl.ID] = dl
	return nil
}

func (f *fakeStore) ListDeadLetters(ctx context.Context, limit, offset int) ([]ledgerstore.DeadLetter, error) {
	var out []ledgerstore.DeadLetter
	for _, dl := range f.deadLetters {
		out = append(out, dl)
	}
	return out, nil
}

func (f *fakeStore) GetDeadLetter(ctx context.Context, id string) (ledgerstore.DeadLetter, error) {
	dl, ok := f.deadLetters[id]
	if !ok {
		return ledgerstore.DeadLetter{}, ledgerstore.ErrNotFound
	}
	return dl, nil
}

func (f *fakeStore) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	for _, d := range f.deliveries {
		switch d.Status {
		case ledgerstore.DeliveryPending:
			s.Pending++
		case ledgerstore.DeliveryDelivered:
			s.Delivered++
		case ledgerstore.DeliveryFailed:
			s.Failed++
		case ledgerstore.DeliveryDeadLetter:
			s.DeadLetter++
		}
	}
	return s, nil
}

func (f *fakeStore) GetByID(ctx context.Context, id string) (ledgerstore.LedgerEntry, error) {
	e, ok := f.events[id]
	if !ok {
		return ledgerstore.LedgerEntry{}, ledgerstore.ErrNotFound
	}
	return e, nil
}
