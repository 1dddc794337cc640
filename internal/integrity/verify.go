// Package integrity walks the ledger in sequence order, recomputing every
// hash and the chain link between consecutive entries, and persists the
// result as a checkpoint — the read-only counterpart to appendengine's
// write path. It never repairs anything it finds broken: a tampered chain
// is evidence, not a bug to patch over.
package integrity

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/terryholliday/proveniq-ledger/internal/canonical"
	"github.com/terryholliday/proveniq-ledger/internal/ledgerstore"
)

// EntrySource is the subset of ledgerstore.Store the verifier needs.
type EntrySource interface {
	ListRange(ctx context.Context, fromSeq, toSeq int64, limit int) ([]ledgerstore.LedgerEntry, error)
}

// CheckpointStore persists the outcome of a verification run.
type CheckpointStore interface {
	SaveCheckpoint(ctx context.Context, cp ledgerstore.IntegrityCheckpoint) error
}

// MaxLimit is the hard cap on how many entries a single verify call may scan.
const MaxLimit = 100_000

// Result is the GET /integrity/verify response body.
type Result struct {
	Valid          bool      `json:"valid"`
	EntriesChecked int64     `json:"entries_checked"`
	FirstSequence  int64     `json:"first_sequence"`
	LastSequence   int64     `json:"last_sequence"`
	Errors         []string  `json:"errors"`
	VerifiedAt     time.Time `json:"verified_at"`
}

// Verifier recomputes and checks the chain over a sequence range.
type Verifier struct {
	entries    EntrySource
	checkpoint CheckpointStore
}

func NewVerifier(entries EntrySource, checkpoint CheckpointStore) *Verifier {
	return &Verifier{entries: entries, checkpoint: checkpoint}
}

// Verify scans entries with sequence_number in [from, to], capped at limit
// (itself capped at MaxLimit), recomputing payload_hash, entry_hash, and the
// previous_hash chain link for each.
func (v *Verifier) Verify(ctx context.Context, from, to int64, limit int) (Result, error) {
	if limit <= 0 || limit > MaxLimit {
		limit = MaxLimit
	}

	rows, err := v.entries.ListRange(ctx, from, to, limit)
	if err != nil {
		return Result{}, fmt.Errorf("integrity: list range: %w", err)
	}

	result := Result{Valid: true, VerifiedAt: time.Now().UTC()}
	if len(rows) == 0 {
		return result, nil
	}

	result.FirstSequence = rows[0].SequenceNumber
	result.LastSequence = rows[len(rows)-1].SequenceNumber

	// The chain link can only be checked against GENESIS for the very first
	// entry of the whole chain. A range starting above sequence 1 has a
	// real predecessor outside [from, to] that was never fetched, so its
	// first row's link is unverifiable here and must be skipped rather
	// than compared against GENESIS.
	firstRowLinkCheckable := rows[0].SequenceNumber == 1

	expectedPrev := canonical.GenesisMarker
	for i, entry := range rows {
		result.EntriesChecked++

		storedPrev := entry.PreviousHash
		if storedPrev == "" {
			storedPrev = canonical.GenesisMarker
		}
		if (i > 0 || firstRowLinkCheckable) && storedPrev != expectedPrev {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf(
				"sequence %d: previous_hash %q does not match prior entry_hash %q",
				entry.SequenceNumber, storedPrev, expectedPrev))
		}

		payloadHash, err := canonical.HashPayload(rawOrObject(entry.Payload))
		if err != nil {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf("sequence %d: payload hash computation failed: %v", entry.SequenceNumber, err))
		} else if payloadHash != entry.PayloadHash {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf("sequence %d: payload_hash mismatch", entry.SequenceNumber))
		}

		entryHash := canonical.HashEntry(entry.PayloadHash, entry.PreviousHash, entry.Source, entry.EventType, entry.CreatedAt)
		if entryHash != entry.EntryHash {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf("sequence %d: entry_hash mismatch", entry.SequenceNumber))
		}

		expectedPrev = entry.EntryHash
	}

	if v.checkpoint != nil {
		cp := ledgerstore.IntegrityCheckpoint{
			CheckpointSequence: result.LastSequence,
			CheckpointHash:     expectedPrev,
			EntriesCount:       result.EntriesChecked,
			VerifiedAt:         result.VerifiedAt,
		}
		if err := v.checkpoint.SaveCheckpoint(ctx, cp); err != nil {
			return result, fmt.Errorf("integrity: save checkpoint: %w", err)
		}
	}

	return result, nil
}

func rawOrObject(b []byte) interface{} {
	if len(b) == 0 {
		return map[string]interface{}{}
	}
	return json.RawMessage(b)
}
