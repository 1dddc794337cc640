package appendengine

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terryholliday/proveniq-ledger/internal/audit"
	"github.com/terryholliday/proveniq-ledger/internal/canonical"
	"github.com/terryholliday/proveniq-ledger/internal/envelope"
	"github.com/terryholliday/proveniq-ledger/internal/ledgerstore"
)

// fakeStore is an in-memory ledgerstore.Store used to exercise the append
// engine's orchestration without a database.
type fakeStore struct {
	entries   []ledgerstore.LedgerEntry
	byKey     map[string]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{byKey: map[string]int{}}
}

func (f *fakeStore) Append(ctx context.Context, req ledgerstore.AppendRequest) (ledgerstore.LedgerEntry, bool, error) {
	if idx, ok := f.byKey[req.IdempotencyKey]; ok {
		return f.entries[idx], true, nil
	}

	previousHash := ""
	seq := int64(1)
	if len(f.entries) > 0 {
		last := f.entries[len(f.entries)-1]
		previousHash = last.EntryHash
		seq = last.SequenceNumber + 1
	}

	payloadHash, _ := canonical.HashPayload(rawJSONOrEmpty(req.Payload))
	createdAt := "2026-01-01T00:00:00Z"
	entryHash := canonical.HashEntry(payloadHash, previousHash, req.Source, req.EventType, createdAt)

	entry := ledgerstore.LedgerEntry{
		ID:              uuid.New().String(),
		SequenceNumber:  seq,
		EventType:       req.EventType,
		SchemaVersion:   req.SchemaVersion,
		Source:          req.Source,
		Producer:        req.Producer,
		Payload:         req.Payload,
		PayloadHash:     payloadHash,
		PreviousHash:    previousHash,
		EntryHash:       entryHash,
		AssetStateHash:  req.AssetStateHash,
		EvidenceSetHash: req.EvidenceSetHash,
		RulesetVersion:  req.RulesetVersion,
		CreatedAt:       createdAt,
		IdempotencyKey:  req.IdempotencyKey,
	}
	f.entries = append(f.entries, entry)
	f.byKey[req.IdempotencyKey] = len(f.entries) - 1
	return entry, false, nil
}

func rawJSONOrEmpty(b []byte) interface{} {
	if len(b) == 0 {
		return map[string]interface{}{}
	}
	var v interface{}
	_ = json.Unmarshal(b, &v)
	return v
}

func (f *fakeStore) GetByID(ctx context.Context, id string) (ledgerstore.LedgerEntry, error) {
	for _, e := range f.entries {
		if e.ID == id {
			return e, nil
		}
	}
	return ledgerstore.LedgerEntry{}, ledgerstore.ErrNotFound
}
func (f *fakeStore) GetByIdempotencyKey(ctx context.Context, key string) (ledgerstore.LedgerEntry, error) {
	if idx, ok := f.byKey[key]; ok {
		return f.entries[idx], nil
	}
	return ledgerstore.LedgerEntry{}, ledgerstore.ErrNotFound
}
func (f *fakeStore) ChainHead(ctx context.Context) (ledgerstore.LedgerEntry, bool, error) {
	if len(f.entries) == 0 {
		return ledgerstore.LedgerEntry{}, false, nil
	}
	return f.entries[len(f.entries)-1], true, nil
}
func (f *fakeStore) ListByAsset(ctx context.Context, assetID string, limit, offset int) ([]ledgerstore.LedgerEntry, error) {
	return nil, nil
}
func (f *fakeStore) ListByAnchor(ctx context.Context, anchorID string, limit, offset int) ([]ledgerstore.LedgerEntry, error) {
	return nil, nil
}
func (f *fakeStore) ListRange(ctx context.Context, fromSeq, toSeq int64, limit int) ([]ledgerstore.LedgerEntry, error) {
	return nil, nil
}
func (f *fakeStore) List(ctx context.Context, limit, offset int) ([]ledgerstore.LedgerEntry, error) {
	return f.entries, nil
}
func (f *fakeStore) Count(ctx context.Context) (int64, error) { return int64(len(f.entries)), nil }

type fakeWebhooks struct{ enqueued []string }

func (f *fakeWebhooks) EnqueueForEvent(ctx context.Context, entry ledgerstore.LedgerEntry) error {
	f.enqueued = append(f.enqueued, entry.ID)
	return nil
}

func newTestEngine(t *testing.T) (*Engine, *fakeStore, *fakeWebhooks) {
	t.Helper()
	v, err := envelope.NewValidator([]string{"1.0.0"})
	require.NoError(t, err)
	store := newFakeStore()
	hooks := &fakeWebhooks{}
	eng := New(v, store, hooks, audit.NewSlogLogger(nil), "home")
	return eng, store, hooks
}

func canonicalBody(eventType, idempotencyKey string) []byte {
	return []byte(`{
		"schema_version": "1.0.0",
		"event_type": "` + eventType + `",
		"occurred_at": "2026-01-01T00:00:00Z",
		"correlation_id": "corr-1",
		"idempotency_key": "` + idempotencyKey + `",
		"producer": "home-service",
		"producer_version": "2.3.0",
		"subject": "asset:A",
		"payload": {"asset_id":"A"},
		"canonical_hash_hex": "deadbeef",
		"signatures": []
	}`)
}

func TestSubmit_GenesisAppend(t *testing.T) {
	eng, _, hooks := newTestEngine(t)
	res, err := eng.Submit(context.Background(), canonicalBody("HOME_ASSET_REGISTERED", "k1"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.SequenceNumber)
	assert.False(t, res.Idempotent)
	assert.Len(t, hooks.enqueued, 1)
}

func TestSubmit_IdempotentReplay(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	first, err := eng.Submit(context.Background(), canonicalBody("HOME_ASSET_REGISTERED", "k1"))
	require.NoError(t, err)

	second, err := eng.Submit(context.Background(), canonicalBody("HOME_ASSET_REGISTERED", "k1"))
	require.NoError(t, err)

	assert.Equal(t, first.SequenceNumber, second.SequenceNumber)
	assert.Equal(t, first.EntryHash, second.EntryHash)
	assert.True(t, second.Idempotent)
}

func TestSubmit_ChainContinuity(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	first, err := eng.Submit(context.Background(), canonicalBody("HOME_ASSET_REGISTERED", "k1"))
	require.NoError(t, err)

	second, err := eng.Submit(context.Background(), canonicalBody("HOME_PHOTO_ADDED", "k2"))
	require.NoError(t, err)

	assert.Equal(t, int64(2), second.SequenceNumber)
	assert.NotEqual(t, first.EntryHash, second.EntryHash)
}

func TestSubmit_RejectsInvalidEventType(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	_, err := eng.Submit(context.Background(), canonicalBody("NOT_REAL", "k1"))
	require.Error(t, err)
}

func TestSubmit_ProjectsVerificationFieldsFromPayload(t *testing.T) {
	eng, store, _ := newTestEngine(t)
	body := []byte(`{
		"schema_version": "1.0.0",
		"event_type": "VERIFICATION_GRANTED",
		"occurred_at": "2026-01-01T00:00:00Z",
		"correlation_id": "corr-1",
		"idempotency_key": "k1",
		"producer": "home-service",
		"producer_version": "2.3.0",
		"subject": "asset:A",
		"payload": {"asset_id":"A","asset_state_hash":"ash","evidence_set_hash":"esh","ruleset_version":"v1.0.0"},
		"canonical_hash_hex": "deadbeef",
		"signatures": []
	}`)

	res, err := eng.Submit(context.Background(), body)
	require.NoError(t, err)

	entry, err := store.GetByID(context.Background(), res.EventID)
	require.NoError(t, err)
	assert.Equal(t, "ash", entry.AssetStateHash)
	assert.Equal(t, "esh", entry.EvidenceSetHash)
	assert.Equal(t, "v1.0.0", entry.RulesetVersion)
}
