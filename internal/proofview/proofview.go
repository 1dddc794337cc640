// Package proofview issues and validates time-bound, asset-state-bound
// proofs by composing the verification replay reducer with stored proof
// metadata.
package proofview

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/terryholliday/proveniq-ledger/internal/appendengine"
	"github.com/terryholliday/proveniq-ledger/internal/audit"
	"github.com/terryholliday/proveniq-ledger/internal/canonical"
	"github.com/terryholliday/proveniq-ledger/internal/ledgererr"
	"github.com/terryholliday/proveniq-ledger/internal/ledgerstore"
	"github.com/terryholliday/proveniq-ledger/internal/reducer"
)

// Store persists ProofView rows. Separate from ledgerstore.Store because
// proof views are a derived, rebuildable projection, not part of the
// hash chain itself.
type Store interface {
	Insert(ctx context.Context, pv ledgerstore.ProofView) error
	Get(ctx context.Context, proofID string) (ledgerstore.ProofView, error)
	Revoke(ctx context.Context, proofID string, revokedAt time.Time) error
}

// EventSource loads an asset's ledger entries so the reducer can be run.
type EventSource interface {
	ListByAsset(ctx context.Context, assetID string, limit, offset int) ([]ledgerstore.LedgerEntry, error)
}

// Service issues and validates proof views.
type Service struct {
	store  Store
	events EventSource
	append *appendengine.Engine
	source string
	audit  audit.Logger
}

func NewService(store Store, events EventSource, appendEngine *appendengine.Engine, auditLogger audit.Logger, source string) *Service {
	return &Service{
		store:  store,
		events: events,
		append: appendEngine,
		source: source,
		audit:  auditLogger,
	}
}

// IssueRequest carries the fields needed to mint a new proof view.
type IssueRequest struct {
	AssetID             string
	VerificationEventID string
	AssetStateHash      string
	EvidenceSetHash     string
	RulesetVersion      string
	ExpiresAt           time.Time
	Scope               string
	CreatedBy           string
}

// snapshotHash computes hash({asset_state_hash, evidence_set_hash}).
func snapshotHash(assetStateHash, evidenceSetHash string) (string, error) {
	return canonical.CanonicalHash(map[string]string{
		"asset_state_hash":  assetStateHash,
		"evidence_set_hash": evidenceSetHash,
	})
}

// Issue computes the snapshot hash, emits PROOF_VIEW_CREATED through the
// append engine, and inserts the proof-view row.
func (s *Service) Issue(ctx context.Context, req IssueRequest) (ledgerstore.ProofView, error) {
	snap, err := snapshotHash(req.AssetStateHash, req.EvidenceSetHash)
	if err != nil {
		return ledgerstore.ProofView{}, fmt.Errorf("proofview: compute snapshot hash: %w", err)
	}

	proofID := uuid.New().String()

	payload := mustJSON(map[string]interface{}{
		"proof_id":              proofID,
		"asset_id":              req.AssetID,
		"verification_event_id": req.VerificationEventID,
		"snapshot_hash":         snap,
		"expires_at":            req.ExpiresAt.Format(time.RFC3339),
	})

	_, err = s.append.Submit(ctx, canonicalEventEnvelope("PROOF_VIEW_CREATED", req.AssetID, payload))
	if err != nil {
		return ledgerstore.ProofView{}, err
	}

	attestHash, err := createdAttestation(proofID, time.Now().UTC())
	if err != nil {
		return ledgerstore.ProofView{}, fmt.Errorf("proofview: compute creation attestation: %w", err)
	}

	pv := ledgerstore.ProofView{
		ProofID:                 proofID,
		AssetID:                 req.AssetID,
		VerificationEventID:     req.VerificationEventID,
		SnapshotHash:            snap,
		AssetStateHash:          req.AssetStateHash,
		EvidenceSetHash:         req.EvidenceSetHash,
		RulesetVersion:          req.RulesetVersion,
		ExpiresAt:               req.ExpiresAt,
		CreatedBy:               req.CreatedBy,
		Scope:                   req.Scope,
		CreationAttestationHash: attestHash,
	}
	if err := s.store.Insert(ctx, pv); err != nil {
		return ledgerstore.ProofView{}, fmt.Errorf("proofview: insert: %w", err)
	}

	if s.audit != nil {
		s.audit.Record(ctx, audit.Entry{
			EventType: audit.EventProofIssued,
			Subject:   proofID,
			Action:    "proof_created",
			Detail:    map[string]string{"attestation_hash": attestHash},
		})
	}

	return pv, nil
}

// Revoke emits PROOF_VIEW_REVOKED and flips revoked_at.
func (s *Service) Revoke(ctx context.Context, proofID string) error {
	pv, err := s.store.Get(ctx, proofID)
	if err != nil {
		return err
	}

	payload := mustJSON(map[string]interface{}{
		"proof_id": proofID,
		"asset_id": pv.AssetID,
	})
	if _, err := s.append.Submit(ctx, canonicalEventEnvelope("PROOF_VIEW_REVOKED", pv.AssetID, payload)); err != nil {
		return err
	}

	revokedAt := time.Now().UTC()
	if attestHash, hashErr := revokedAttestation(proofID, pv.CreationAttestationHash, revokedAt); hashErr == nil && s.audit != nil {
		s.audit.Record(ctx, audit.Entry{
			EventType: audit.EventProofRevoked,
			Subject:   proofID,
			Action:    "proof_revoked",
			Detail:    map[string]string{"attestation_hash": attestHash},
		})
	}

	return s.store.Revoke(ctx, proofID, revokedAt)
}

// ValidationResult is the outcome of Validate.
type ValidationResult struct {
	OK     bool
	Reason string
}

// Validate implements the 9-step ordered check: revocation, expiry,
// freeze/revocation of the underlying asset, invalidation, stale grant,
// snapshot drift, recomputed snapshot mismatch, non-active status, OK.
func (s *Service) Validate(ctx context.Context, proofID string, now time.Time) (ValidationResult, error) {
	pv, err := s.store.Get(ctx, proofID)
	if err != nil {
		return ValidationResult{}, ledgererr.New(ledgererr.KindProofNotFound, proofID)
	}

	if pv.RevokedAt != nil {
		return ValidationResult{OK: false, Reason: string(ledgererr.KindProofRevoked)}, nil
	}
	if now.After(pv.ExpiresAt) {
		return ValidationResult{OK: false, Reason: string(ledgererr.KindProofExpired)}, nil
	}

	rows, err := s.events.ListByAsset(ctx, pv.AssetID, 1_000_000, 0)
	if err != nil {
		return ValidationResult{}, fmt.Errorf("proofview: load asset events: %w", err)
	}
	result := reducer.Reduce(pv.AssetID, rows, now)

	switch result.Status {
	case reducer.StatusFrozen:
		return ValidationResult{OK: false, Reason: string(ledgererr.KindAssetFrozen)}, nil
	case reducer.StatusRevoked:
		return ValidationResult{OK: false, Reason: string(ledgererr.KindAssetRevoked)}, nil
	case reducer.StatusInvalidated:
		return ValidationResult{OK: false, Reason: string(ledgererr.KindInvalidated)}, nil
	}

	if result.LastVerificationEventID != pv.VerificationEventID {
		return ValidationResult{OK: false, Reason: string(ledgererr.KindNotActiveGrant)}, nil
	}

	if result.AssetStateHashCurrent != pv.AssetStateHash || result.EvidenceSetHashCurrent != pv.EvidenceSetHash {
		return ValidationResult{OK: false, Reason: string(ledgererr.KindInvalidated)}, nil
	}

	recomputed, err := snapshotHash(pv.AssetStateHash, pv.EvidenceSetHash)
	if err != nil {
		return ValidationResult{}, fmt.Errorf("proofview: recompute snapshot hash: %w", err)
	}
	if recomputed != pv.SnapshotHash {
		return ValidationResult{OK: false, Reason: string(ledgererr.KindSnapshotMismatch)}, nil
	}

	if result.Status != reducer.StatusVerifiedActive {
		return ValidationResult{OK: false, Reason: ledgererr.NotVerifiedActive(string(result.Status)).Reason()}, nil
	}

	return ValidationResult{OK: true, Reason: "OK"}, nil
}
