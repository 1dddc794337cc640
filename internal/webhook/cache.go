package webhook

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/terryholliday/proveniq-ledger/internal/ledgerstore"
)

// SubscriptionCache serves the active-subscription list to the matching
// step without hitting the store on every append. Subscriptions change
// rarely relative to event volume, so a short TTL is enough to bound
// staleness without adding write-path latency.
type SubscriptionCache interface {
	Get(ctx context.Context) ([]ledgerstore.Subscription, bool)
	Set(ctx context.Context, subs []ledgerstore.Subscription)
	Invalidate(ctx context.Context)
}

const cacheKey = "proveniq:webhook:active_subscriptions"

// inProcessCache is the fallback used when REDIS_URL is unset: a single
// instance's in-memory view, safe for concurrent use.
type inProcessCache struct {
	mu      sync.RWMutex
	subs    []ledgerstore.Subscription
	expires time.Time
	ttl     time.Duration
}

func NewInProcessCache(ttl time.Duration) SubscriptionCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &inProcessCache{ttl: ttl}
}

func (c *inProcessCache) Get(ctx context.Context) ([]ledgerstore.Subscription, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.subs == nil || time.Now().After(c.expires) {
		return nil, false
	}
	return c.subs, true
}

func (c *inProcessCache) Set(ctx context.Context, subs []ledgerstore.Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs = subs
	c.expires = time.Now().Add(c.ttl)
}

func (c *inProcessCache) Invalidate(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs = nil
}

// RedisSubscriptionCache shares the active-subscription list across every
// webhook-worker instance in a deployment, so a subscription created on one
// node is visible to matching on another within the TTL without a DB round
// trip per append. Falls back to an in-process cache when REDIS_URL is
// unset (see NewSubscriptionCache).
type RedisSubscriptionCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisSubscriptionCache(client *redis.Client, ttl time.Duration) *RedisSubscriptionCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisSubscriptionCache{client: client, ttl: ttl}
}

func (c *RedisSubscriptionCache) Get(ctx context.Context) ([]ledgerstore.Subscription, bool) {
	raw, err := c.client.Get(ctx, cacheKey).Bytes()
	if err != nil {
		return nil, false
	}
	var subs []ledgerstore.Subscription
	if err := json.Unmarshal(raw, &subs); err != nil {
		return nil, false
	}
	return subs, true
}

func (c *RedisSubscriptionCache) Set(ctx context.Context, subs []ledgerstore.Subscription) {
	raw, err := json.Marshal(subs)
	if err != nil {
		return
	}
	c.client.Set(ctx, cacheKey, raw, c.ttl)
}

func (c *RedisSubscriptionCache) Invalidate(ctx context.Context) {
	c.client.Del(ctx, cacheKey)
}

// NewSubscriptionCache picks Redis when redisURL is non-empty, otherwise the
// in-process fallback — the same "falls back" wiring described for
// REDIS_URL in the config package.
func NewSubscriptionCache(redisURL string, ttl time.Duration) (SubscriptionCache, error) {
	if redisURL == "" {
		return NewInProcessCache(ttl), nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return NewRedisSubscriptionCache(redis.NewClient(opts), ttl), nil
}
