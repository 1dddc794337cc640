// Package reducer implements the verification replay reducer: a pure fold
// over an asset's ordered ledger entries producing a VerificationResult.
// It has no side effects and no dependency on the store — callers fetch
// rows themselves (online, per-request, or during a full read-model
// rebuild) and pass them in already sorted by sequence_number.
package reducer

import (
	"encoding/json"
	"time"

	"github.com/terryholliday/proveniq-ledger/internal/canonical"
	"github.com/terryholliday/proveniq-ledger/internal/ledgerstore"
)

// Status is the derived verification state of an asset.
type Status string

const (
	StatusRevoked        Status = "REVOKED"
	StatusFrozen         Status = "FROZEN"
	StatusUnverified     Status = "UNVERIFIED"
	StatusSuperseded     Status = "SUPERSEDED"
	StatusInvalidated    Status = "INVALIDATED"
	StatusVerifiedDecayed Status = "VERIFIED_DECAYED"
	StatusVerifiedActive Status = "VERIFIED_ACTIVE"
)

const defaultRulesetVersion = "v1.0.0"

// VerificationResult is the reducer's output for one asset as of one point
// in time.
type VerificationResult struct {
	AssetID                 string
	Status                  Status
	ReasonCode              string
	RulesetVersion          string
	ConfidenceBasisPoints   int
	SnapshotHashAtGrant     string
	AssetStateHashCurrent   string
	EvidenceSetHashCurrent  string
	LastVerificationEventID string
	RevokedByEventID        string
	SupersededByEventID     string
	SupportingEventIDs      []string
}

// grantSnapshot captures the state recorded at the time of the last
// VERIFICATION_GRANTED event.
type grantSnapshot struct {
	eventID         string
	assetStateHash  string
	evidenceSetHash string
	expiresAt       *time.Time
}

// Reduce folds rows (already filtered to one asset_id and sorted ascending
// by sequence_number) into a VerificationResult as of asOf.
func Reduce(assetID string, rows []ledgerstore.LedgerEntry, asOf time.Time) VerificationResult {
	var claim json.RawMessage
	var evidenceHashes []string
	activeFreeze := false
	var revokedByEventID string
	var supersededByEventID string
	var lastGrant *grantSnapshot
	var supporting []string
	rulesetVersion := defaultRulesetVersion

	for _, row := range rows {
		supporting = append(supporting, row.ID)
		if row.RulesetVersion != "" {
			rulesetVersion = row.RulesetVersion
		}

		switch row.EventType {
		case "CLAIM_ADDED", "CLAIM_UPDATED":
			claim = json.RawMessage(row.Payload)

		case "EVIDENCE_ADDED":
			if hash := extractContentHash(row.Payload); hash != "" {
				evidenceHashes = append(evidenceHashes, hash)
			}

		case "EVIDENCE_FROZEN", "DISPUTE_FILED":
			activeFreeze = true

		case "FREEZE_LIFTED", "DISPUTE_RESOLVED":
			activeFreeze = false

		case "VERIFICATION_REVOKED":
			revokedByEventID = row.ID

		case "VERIFICATION_GRANTED":
			if lastGrant != nil {
				supersededByEventID = row.ID
			}
			lastGrant = &grantSnapshot{
				eventID:         row.ID,
				assetStateHash:  row.AssetStateHash,
				evidenceSetHash: row.EvidenceSetHash,
				expiresAt:       parseExpiresAt(row.Payload),
			}
			revokedByEventID = ""
		}
	}

	evidenceSetHashCurrent := canonical.HashEvidenceSet(evidenceHashes)
	assetStateHashCurrent, _ := canonical.HashAssetState(canonical.AssetState{
		ClaimJSON:      rawOrNil(claim),
		EvidenceHashes: evidenceHashes,
		RulesetVersion: rulesetVersion,
	})

	result := VerificationResult{
		AssetID:                assetID,
		RulesetVersion:         rulesetVersion,
		AssetStateHashCurrent:  assetStateHashCurrent,
		EvidenceSetHashCurrent: evidenceSetHashCurrent,
		RevokedByEventID:       revokedByEventID,
		SupersededByEventID:    supersededByEventID,
		SupportingEventIDs:     supporting,
		ConfidenceBasisPoints:  0,
	}
	if lastGrant != nil {
		result.LastVerificationEventID = lastGrant.eventID
		result.SnapshotHashAtGrant, _ = snapshotHash(lastGrant.assetStateHash, lastGrant.evidenceSetHash)
	}

	switch {
	case revokedByEventID != "":
		result.Status = StatusRevoked
		result.ReasonCode = "REVOKED"

	case activeFreeze:
		result.Status = StatusFrozen
		result.ReasonCode = "FROZEN"

	case lastGrant == nil:
		result.Status = StatusUnverified
		result.ReasonCode = "UNVERIFIED"

	case supersededByEventID != "":
		result.Status = StatusSuperseded
		result.ReasonCode = "SUPERSEDED"

	case lastGrant.assetStateHash != assetStateHashCurrent || lastGrant.evidenceSetHash != evidenceSetHashCurrent:
		result.Status = StatusInvalidated
		result.ReasonCode = "STATE_HASH_MISMATCH"

	case lastGrant.expiresAt != nil && asOf.After(*lastGrant.expiresAt):
		result.Status = StatusVerifiedDecayed
		result.ReasonCode = "VERIFIED_DECAYED"
		result.ConfidenceBasisPoints = 5000

	default:
		result.Status = StatusVerifiedActive
		result.ReasonCode = "VERIFIED_ACTIVE"
		result.ConfidenceBasisPoints = 10000
	}

	if result.ConfidenceBasisPoints < 0 {
		result.ConfidenceBasisPoints = 0
	}
	if result.ConfidenceBasisPoints > 10000 {
		result.ConfidenceBasisPoints = 10000
	}

	return result
}

func rawOrNil(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}

func extractContentHash(payload []byte) string {
	var v struct {
		ContentHash string `json:"content_hash"`
	}
	if err := json.Unmarshal(payload, &v); err != nil {
		return ""
	}
	return v.ContentHash
}

func parseExpiresAt(payload []byte) *time.Time {
	var v struct {
		ExpiresAt string `json:"expires_at"`
	}
	if err := json.Unmarshal(payload, &v); err != nil || v.ExpiresAt == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, v.ExpiresAt)
	if err != nil {
		return nil
	}
	return &t
}

func snapshotHash(assetStateHash, evidenceSetHash string) (string, error) {
	return canonical.CanonicalHash(map[string]string{
		"asset_state_hash":  assetStateHash,
		"evidence_set_hash": evidenceSetHash,
	})
}
