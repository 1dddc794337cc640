package reducer

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"github.com/terryholliday/proveniq-ledger/internal/ledgerstore"
)

func entry(seq int64, id, eventType, payload string) ledgerstore.LedgerEntry {
	return ledgerstore.LedgerEntry{
		ID:             id,
		SequenceNumber: seq,
		EventType:      eventType,
		Payload:        []byte(payload),
	}
}

func TestReduce_VerificationLifecycle(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	rows := []ledgerstore.LedgerEntry{
		entry(1, "e1", "CLAIM_ADDED", `{"v":1}`),
		entry(2, "e2", "EVIDENCE_ADDED", `{"content_hash":"h1"}`),
	}
	preGrant := Reduce("A", rows, now)

	grant := ledgerstore.LedgerEntry{
		ID:              "e3",
		SequenceNumber:  3,
		EventType:       "VERIFICATION_GRANTED",
		Payload:         []byte(`{}`),
		AssetStateHash:  preGrant.AssetStateHashCurrent,
		EvidenceSetHash: preGrant.EvidenceSetHashCurrent,
	}
	rows = append(rows, grant)

	result := Reduce("A", rows, now)
	assert.Equal(t, StatusVerifiedActive, result.Status)

	rows = append(rows, entry(4, "e4", "EVIDENCE_ADDED", `{"content_hash":"h2"}`))
	result2 := Reduce("A", rows, now)
	assert.Equal(t, StatusInvalidated, result2.Status)
	assert.Equal(t, "STATE_HASH_MISMATCH", result2.ReasonCode)
}

func TestReduce_NoGrantIsUnverified(t *testing.T) {
	result := Reduce("A", nil, time.Now())
	assert.Equal(t, StatusUnverified, result.Status)
}

func TestReduce_RevocationWins(t *testing.T) {
	now := time.Now()
	rows := []ledgerstore.LedgerEntry{
		entry(1, "e1", "VERIFICATION_GRANTED", `{}`),
		entry(2, "e2", "VERIFICATION_REVOKED", `{}`),
	}
	result := Reduce("A", rows, now)
	assert.Equal(t, StatusRevoked, result.Status)
}

func TestReduce_FreezeBeatsGrant(t *testing.T) {
	now := time.Now()
	rows := []ledgerstore.LedgerEntry{
		entry(1, "e1", "VERIFICATION_GRANTED", `{}`),
		entry(2, "e2", "EVIDENCE_FROZEN", `{}`),
	}
	result := Reduce("A", rows, now)
	assert.Equal(t, StatusFrozen, result.Status)
}

// TestProperty_ReducerIsIdempotent exercises reduce(reduce_inputs) ==
// reduce(reduce_inputs): running the fold twice on the same rows always
// yields the same result.
func TestProperty_ReducerIsIdempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	eventTypes := []string{
		"CLAIM_ADDED", "EVIDENCE_ADDED", "EVIDENCE_FROZEN", "FREEZE_LIFTED",
		"VERIFICATION_GRANTED", "VERIFICATION_REVOKED",
	}

	properties.Property("reducing the same rows twice yields the same result", prop.ForAll(
		func(indices []int) bool {
			now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
			rows := make([]ledgerstore.LedgerEntry, 0, len(indices))
			for i, idx := range indices {
				et := eventTypes[idx%len(eventTypes)]
				rows = append(rows, entry(int64(i+1), "e"+string(rune('a'+i%26)), et, `{}`))
			}
			r1 := Reduce("A", rows, now)
			r2 := Reduce("A", rows, now)
			return sameResult(r1, r2)
		},
		gen.SliceOf(gen.IntRange(0, 5)),
	))

	properties.TestingRun(t)
}

// sameResult compares two VerificationResults field by field (the struct
// itself isn't comparable with == because of its slice field).
func sameResult(a, b VerificationResult) bool {
	if a.Status != b.Status || a.ReasonCode != b.ReasonCode || a.RulesetVersion != b.RulesetVersion ||
		a.ConfidenceBasisPoints != b.ConfidenceBasisPoints || a.SnapshotHashAtGrant != b.SnapshotHashAtGrant ||
		a.AssetStateHashCurrent != b.AssetStateHashCurrent || a.EvidenceSetHashCurrent != b.EvidenceSetHashCurrent ||
		a.LastVerificationEventID != b.LastVerificationEventID || a.RevokedByEventID != b.RevokedByEventID ||
		a.SupersededByEventID != b.SupersededByEventID || len(a.SupportingEventIDs) != len(b.SupportingEventIDs) {
		return false
	}
	for i := range a.SupportingEventIDs {
		if a.SupportingEventIDs[i] != b.SupportingEventIDs[i] {
			return false
		}
	}
	return true
}
