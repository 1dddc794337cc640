package webhook

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terryholliday/proveniq-ledger/internal/ledgerstore"
)

func TestMatches_ActiveRequired(t *testing.T) {
	sub := ledgerstore.Subscription{Active: false}
	entry := ledgerstore.LedgerEntry{EventType: "HOME_PHOTO_ADDED", Source: "home"}
	assert.False(t, matches(sub, entry))
}

func TestMatches_EventTypeFilter(t *testing.T) {
	sub := ledgerstore.Subscription{Active: true, EventTypes: []string{"CLAIM_ADDED"}}
	assert.False(t, matches(sub, ledgerstore.LedgerEntry{EventType: "CLAIM_UPDATED"}))
	assert.True(t, matches(sub, ledgerstore.LedgerEntry{EventType: "CLAIM_ADDED"}))
}

func TestMatches_EmptyFiltersMatchAll(t *testing.T) {
	sub := ledgerstore.Subscription{Active: true}
	assert.True(t, matches(sub, ledgerstore.LedgerEntry{EventType: "ANYTHING", Source: "anything"}))
}

func TestMatches_SourceFilter(t *testing.T) {
	sub := ledgerstore.Subscription{Active: true, SourceFilter: []string{"home"}}
	assert.False(t, matches(sub, ledgerstore.LedgerEntry{Source: "service"}))
	assert.True(t, matches(sub, ledgerstore.LedgerEntry{Source: "home"}))
}

func TestEnqueueForEvent_InsertsOneDeliveryPerMatch(t *testing.T) {
	store := newFakeStore()
	sub := ledgerstore.Subscription{ID: "s1", Active: true, WebhookURL: "http://x", Secret: "shh"}
	require.NoError(t, store.CreateSubscription(context.Background(), sub))

	eng := NewEngine(store, NewInProcessCache(0))
	entry := ledgerstore.LedgerEntry{ID: "e1", EventType: "HOME_PHOTO_ADDED", Source: "home"}

	require.NoError(t, eng.EnqueueForEvent(context.Background(), entry))
	assert.Len(t, store.deliveries, 1)
	assert.Equal(t, "s1", store.deliveries[0].SubscriptionID)
	assert.Equal(t, ledgerstore.DeliveryPending, store.deliveries[0].Status)
}
