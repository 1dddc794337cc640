package webhook

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/terryholliday/proveniq-ledger/internal/ledgerstore"
)

// Service is the narrow surface the HTTP layer talks to for subscription
// management and operator visibility into the delivery queue. Matching and
// delivery themselves live in Engine and Worker.
type Service struct {
	store Store
	cache SubscriptionCache
}

func NewService(store Store, cache SubscriptionCache) *Service {
	return &Service{store: store, cache: cache}
}

// CreateSubscriptionRequest carries the fields a caller supplies for
// POST /subscriptions.
type CreateSubscriptionRequest struct {
	SubscriberID string
	WebhookURL   string
	EventTypes   []string
	SourceFilter []string
	Secret       string
}

func (s *Service) CreateSubscription(ctx context.Context, req CreateSubscriptionRequest) (ledgerstore.Subscription, error) {
	sub := ledgerstore.Subscription{
		ID:           uuid.New().String(),
		SubscriberID: req.SubscriberID,
		WebhookURL:   req.WebhookURL,
		EventTypes:   req.EventTypes,
		SourceFilter: req.SourceFilter,
		Secret:       req.Secret,
		Active:       true,
	}
	if err := s.store.CreateSubscription(ctx, sub); err != nil {
		return ledgerstore.Subscription{}, err
	}
	s.cache.Invalidate(ctx)
	return sub, nil
}

func (s *Service) GetSubscription(ctx context.Context, id string) (ledgerstore.Subscription, error) {
	return s.store.GetSubscription(ctx, id)
}

func (s *Service) ListSubscriptions(ctx context.Context) ([]ledgerstore.Subscription, error) {
	return s.store.ListActiveSubscriptions(ctx)
}

func (s *Service) DeleteSubscription(ctx context.Context, id string) error {
	if err := s.store.DeleteSubscription(ctx, id); err != nil {
		return err
	}
	s.cache.Invalidate(ctx)
	return nil
}

func (s *Service) Stats(ctx context.Context) (Stats, error) {
	return s.store.Stats(ctx)
}

func (s *Service) ListDeadLetters(ctx context.Context, limit, offset int) ([]ledgerstore.DeadLetter, error) {
	return s.store.ListDeadLetters(ctx, limit, offset)
}

// RetryDeadLetter re-enqueues a dead-lettered delivery as a fresh pending
// delivery with attempts reset to zero — an operator-initiated manual retry,
// distinct from the automatic backoff schedule.
func (s *Service) RetryDeadLetter(ctx context.Context, deadLetterID string) error {
	dl, err := s.store.GetDeadLetter(ctx, deadLetterID)
	if err != nil {
		return err
	}
	return s.store.EnqueueDelivery(ctx, ledgerstore.WebhookDelivery{
		ID:             uuid.New().String(),
		SubscriptionID: dl.SubscriptionID,
		EventID:        dl.EventID,
		Status:         ledgerstore.DeliveryPending,
		NextRetryAt:    time.Now().UTC(),
	})
}
