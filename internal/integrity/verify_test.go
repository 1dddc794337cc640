package integrity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terryholliday/proveniq-ledger/internal/canonical"
	"github.com/terryholliday/proveniq-ledger/internal/ledgerstore"
)

type fakeEntrySource struct {
	rows []ledgerstore.LedgerEntry
}

func (f fakeEntrySource) ListRange(ctx context.Context, from, to int64, limit int) ([]ledgerstore.LedgerEntry, error) {
	var out []ledgerstore.LedgerEntry
	for _, r := range f.rows {
		if r.SequenceNumber >= from && r.SequenceNumber <= to {
			out = append(out, r)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func buildChain(t *testing.T, n int) []ledgerstore.LedgerEntry {
	t.Helper()
	var rows []ledgerstore.LedgerEntry
	prevHash := ""
	for i := 1; i <= n; i++ {
		payloadHash, err := canonical.HashPayload(map[string]interface{}{"i": i})
		require.NoError(t, err)
		createdAt := "2026-01-01T00:00:00.000000000Z"
		entryHash := canonical.HashEntry(payloadHash, prevHash, "home", "HOME_PHOTO_ADDED", createdAt)
		rows = append(rows, ledgerstore.LedgerEntry{
			ID:             "e" + string(rune('0'+i)),
			SequenceNumber: int64(i),
			EventType:      "HOME_PHOTO_ADDED",
			Source:         "home",
			Payload:        []byte(`{"i":` + string(rune('0'+i)) + `}`),
			PayloadHash:    payloadHash,
			PreviousHash:   prevHash,
			EntryHash:      entryHash,
			CreatedAt:      createdAt,
		})
		prevHash = entryHash
	}
	return rows
}

func TestVerify_ValidChain(t *testing.T) {
	rows := buildChain(t, 3)
	v := NewVerifier(fakeEntrySource{rows: rows}, nil)

	result, err := v.Verify(context.Background(), 1, 3, 100)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, int64(3), result.EntriesChecked)
	assert.Empty(t, result.Errors)
}

func TestVerify_DetectsBrokenLink(t *testing.T) {
	rows := buildChain(t, 3)
	rows[2].PreviousHash = "tampered"
	v := NewVerifier(fakeEntrySource{rows: rows}, nil)

	result, err := v.Verify(context.Background(), 1, 3, 100)
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.NotEmpty(t, result.Errors)
}

func TestVerify_DetectsEntryHashMismatch(t *testing.T) {
	rows := buildChain(t, 2)
	rows[1].EntryHash = "tampered"
	v := NewVerifier(fakeEntrySource{rows: rows}, nil)

	result, err := v.Verify(context.Background(), 1, 2, 100)
	require.NoError(t, err)
	assert.False(t, result.Valid)
}

func TestVerify_EmptyRangeIsValid(t *testing.T) {
	v := NewVerifier(fakeEntrySource{}, nil)
	result, err := v.Verify(context.Background(), 1, 100, 10)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Zero(t, result.EntriesChecked)
}

func TestVerify_LimitClampedToMax(t *testing.T) {
	v := NewVerifier(fakeEntrySource{}, nil)
	_, err := v.Verify(context.Background(), 1, 1, 10_000_000)
	require.NoError(t, err)
}

func TestVerify_MidChainStartDoesNotFlagGenesisMismatch(t *testing.T) {
	rows := buildChain(t, 5)
	v := NewVerifier(fakeEntrySource{rows: rows}, nil)

	result, err := v.Verify(context.Background(), 3, 5, 100)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, int64(3), result.EntriesChecked)
	assert.Empty(t, result.Errors)
}

func TestVerify_MidChainStartStillDetectsInternalBreak(t *testing.T) {
	rows := buildChain(t, 5)
	rows[3].PreviousHash = "tampered"
	v := NewVerifier(fakeEntrySource{rows: rows}, nil)

	result, err := v.Verify(context.Background(), 3, 5, 100)
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.NotEmpty(t, result.Errors)
}
