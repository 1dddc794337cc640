package proofview

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terryholliday/proveniq-ledger/internal/appendengine"
	"github.com/terryholliday/proveniq-ledger/internal/audit"
	"github.com/terryholliday/proveniq-ledger/internal/envelope"
	"github.com/terryholliday/proveniq-ledger/internal/ledgerstore"
	"github.com/terryholliday/proveniq-ledger/internal/reducer"
)

type memProofStore struct {
	rows map[string]ledgerstore.ProofView
}

func newMemProofStore() *memProofStore { return &memProofStore{rows: map[string]ledgerstore.ProofView{}} }

func (m *memProofStore) Insert(ctx context.Context, pv ledgerstore.ProofView) error {
	m.rows[pv.ProofID] = pv
	return nil
}
func (m *memProofStore) Get(ctx context.Context, proofID string) (ledgerstore.ProofView, error) {
	pv, ok := m.rows[proofID]
	if !ok {
		return ledgerstore.ProofView{}, ledgerstore.ErrNotFound
	}
	return pv, nil
}
func (m *memProofStore) Revoke(ctx context.Context, proofID string, revokedAt time.Time) error {
	pv := m.rows[proofID]
	pv.RevokedAt = &revokedAt
	m.rows[proofID] = pv
	return nil
}

type memEventSource struct {
	byAsset map[string][]ledgerstore.LedgerEntry
}

func (m *memEventSource) ListByAsset(ctx context.Context, assetID string, limit, offset int) ([]ledgerstore.LedgerEntry, error) {
	return m.byAsset[assetID], nil
}

type nopStore struct{}

func (nopStore) Append(ctx context.Context, req ledgerstore.AppendRequest) (ledgerstore.LedgerEntry, bool, error) {
	return ledgerstore.LedgerEntry{ID: "e-internal", SequenceNumber: 1, EntryHash: "h", CreatedAt: "now"}, false, nil
}
func (nopStore) GetByID(ctx context.Context, id string) (ledgerstore.LedgerEntry, error) {
	return ledgerstore.LedgerEntry{}, ledgerstore.ErrNotFound
}
func (nopStore) GetByIdempotencyKey(ctx context.Context, key string) (ledgerstore.LedgerEntry, error) {
	return ledgerstore.LedgerEntry{}, ledgerstore.ErrNotFound
}
func (nopStore) ChainHead(ctx context.Context) (ledgerstore.LedgerEntry, bool, error) {
	return ledgerstore.LedgerEntry{}, false, nil
}
func (nopStore) ListByAsset(ctx context.Context, assetID string, limit, offset int) ([]ledgerstore.LedgerEntry, error) {
	return nil, nil
}
func (nopStore) ListByAnchor(ctx context.Context, anchorID string, limit, offset int) ([]ledgerstore.LedgerEntry, error) {
	return nil, nil
}
func (nopStore) ListRange(ctx context.Context, fromSeq, toSeq int64, limit int) ([]ledgerstore.LedgerEntry, error) {
	return nil, nil
}
func (nopStore) List(ctx context.Context, limit, offset int) ([]ledgerstore.LedgerEntry, error) {
	return nil, nil
}
func (nopStore) Count(ctx context.Context) (int64, error) { return 0, nil }

func newTestService(t *testing.T, byAsset map[string][]ledgerstore.LedgerEntry) (*Service, *memProofStore) {
	t.Helper()
	v, err := envelope.NewValidator([]string{"1.0.0"})
	require.NoError(t, err)
	eng := appendengine.New(v, nopStore{}, nil, audit.NewSlogLogger(nil), "internal")
	pstore := newMemProofStore()
	svc := NewService(pstore, &memEventSource{byAsset: byAsset}, eng, audit.NewSlogLogger(nil), "internal")
	return svc, pstore
}

func TestValidate_ProofExpired(t *testing.T) {
	svc, store := newTestService(t, nil)

	pv := ledgerstore.ProofView{
		ProofID:   "p1",
		AssetID:   "A",
		ExpiresAt: time.Now().Add(-time.Minute),
	}
	require.NoError(t, store.Insert(context.Background(), pv))

	result, err := svc.Validate(context.Background(), "p1", time.Now())
	require.NoError(t, err)
	assert.False(t, result.OK)
	assert.Equal(t, "PROOF_EXPIRED", result.Reason)
}

func TestValidate_RevokedProof(t *testing.T) {
	svc, store := newTestService(t, nil)
	revokedAt := time.Now().Add(-time.Hour)
	pv := ledgerstore.ProofView{
		ProofID:   "p1",
		AssetID:   "A",
		ExpiresAt: time.Now().Add(time.Hour),
		RevokedAt: &revokedAt,
	}
	require.NoError(t, store.Insert(context.Background(), pv))

	result, err := svc.Validate(context.Background(), "p1", time.Now())
	require.NoError(t, err)
	assert.False(t, result.OK)
	assert.Equal(t, "PROOF_REVOKED", result.Reason)
}

func TestValidate_OK(t *testing.T) {
	// The grant must carry the hashes the reducer recomputes for the asset's
	// (empty) claim and evidence set, or the reducer reports INVALIDATED.
	pre := reducer.Reduce("A", nil, time.Now())
	grant := ledgerstore.LedgerEntry{
		ID:              "grant-1",
		SequenceNumber:  1,
		EventType:       "VERIFICATION_GRANTED",
		Payload:         []byte(`{}`),
		AssetStateHash:  pre.AssetStateHashCurrent,
		EvidenceSetHash: pre.EvidenceSetHashCurrent,
	}
	svc, store := newTestService(t, map[string][]ledgerstore.LedgerEntry{"A": {grant}})

	snap, err := snapshotHash(pre.AssetStateHashCurrent, pre.EvidenceSetHashCurrent)
	require.NoError(t, err)

	pv := ledgerstore.ProofView{
		ProofID:             "p1",
		AssetID:             "A",
		VerificationEventID: "grant-1",
		SnapshotHash:        snap,
		AssetStateHash:      pre.AssetStateHashCurrent,
		EvidenceSetHash:     pre.EvidenceSetHashCurrent,
		ExpiresAt:           time.Now().Add(time.Hour),
	}
	require.NoError(t, store.Insert(context.Background(), pv))

	result, err := svc.Validate(context.Background(), "p1", time.Now())
	require.NoError(t, err)
	assert.True(t, result.OK)
}
