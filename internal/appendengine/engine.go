// Package appendengine implements the ingestion path: validate the
// envelope, normalize legacy aliases, delegate the locked hash-chain append
// to the store, and fan out webhook deliveries for the newly committed
// entry. The hard concurrency work (the chain lock, idempotency retry)
// lives in ledgerstore.Store.Append; this package is the orchestration
// around it.
package appendengine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/terryholliday/proveniq-ledger/internal/audit"
	"github.com/terryholliday/proveniq-ledger/internal/envelope"
	"github.com/terryholliday/proveniq-ledger/internal/ledgererr"
	"github.com/terryholliday/proveniq-ledger/internal/ledgerstore"
)

// WebhookEnqueuer is the subset of the webhook delivery engine the append
// engine depends on. Kept as a narrow interface so tests can stub it and
// so appendengine never imports the HTTP delivery machinery.
type WebhookEnqueuer interface {
	EnqueueForEvent(ctx context.Context, entry ledgerstore.LedgerEntry) error
}

// Result is returned to the HTTP layer for POST /events/canonical.
type Result struct {
	EventID        string `json:"event_id"`
	SequenceNumber int64  `json:"sequence_number"`
	EntryHash      string `json:"entry_hash"`
	CommittedAt    string `json:"committed_at"`
	SchemaVersion  string `json:"schema_version"`
	Idempotent     bool   `json:"idempotent"`
}

// Engine is the append engine described in the component design.
type Engine struct {
	validator *envelope.Validator
	store     ledgerstore.Store
	webhooks  WebhookEnqueuer
	audit     audit.Logger
	source    string
}

// New builds an Engine. source names the origin domain recorded on every
// entry produced through this engine (e.g. "home", "service").
func New(validator *envelope.Validator, store ledgerstore.Store, webhooks WebhookEnqueuer, auditLogger audit.Logger, source string) *Engine {
	return &Engine{validator: validator, store: store, webhooks: webhooks, audit: auditLogger, source: source}
}

// Submit validates rawEnvelope, appends it to the chain (or returns the
// prior result for a duplicate idempotency key), and enqueues webhook
// deliveries for a freshly committed entry. Webhook delivery failures never
// affect the ingestion result: enqueue errors are logged, not returned.
func (e *Engine) Submit(ctx context.Context, rawEnvelope []byte) (Result, error) {
	outcome, err := e.validator.Validate(rawEnvelope)
	if err != nil {
		return Result{}, err
	}

	if outcome.WasLegacyAlias && e.audit != nil {
		e.audit.Record(ctx, audit.Entry{
			EventType: audit.EventNormalization,
			Subject:   outcome.Envelope.IdempotencyKey,
			Action:    "legacy_alias_normalized",
			Detail: map[string]string{
				"original":  outcome.OriginalType,
				"canonical": outcome.CanonicalType,
			},
		})
	}

	env := outcome.Envelope
	assetStateHash, evidenceSetHash, rulesetVersion := projectVerificationFields(env.Payload)
	req := ledgerstore.AppendRequest{
		EventType:       outcome.CanonicalType,
		SchemaVersion:   env.SchemaVersion,
		Source:          e.source,
		Producer:        env.Producer,
		CorrelationID:   env.CorrelationID,
		ActorID:         env.ActorID,
		AssetID:         env.AssetID,
		AnchorID:        env.AnchorID,
		Payload:         env.Payload,
		IdempotencyKey:  env.IdempotencyKey,
		AssetStateHash:  assetStateHash,
		EvidenceSetHash: evidenceSetHash,
		RulesetVersion:  rulesetVersion,
	}

	entry, deduped, err := e.store.Append(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("appendengine: %w", err)
	}

	if !deduped && e.webhooks != nil {
		// Best-effort outbox: enqueue right after commit, in-process.
		// A delivery failure here never unwinds the append — the
		// ingestion result is already final.
		if enqueueErr := e.webhooks.EnqueueForEvent(ctx, entry); enqueueErr != nil {
			if e.audit != nil {
				e.audit.Record(ctx, audit.Entry{
					EventType: audit.EventNormalization,
					Subject:   entry.ID,
					Action:    "webhook_enqueue_failed",
					Detail:    map[string]string{"error": enqueueErr.Error()},
				})
			}
		}
	}

	return Result{
		EventID:        entry.ID,
		SequenceNumber: entry.SequenceNumber,
		EntryHash:      entry.EntryHash,
		CommittedAt:    entry.CreatedAt,
		SchemaVersion:  entry.SchemaVersion,
		Idempotent:     deduped,
	}, nil
}

// SubmitLegacy converts a legacy {source, event_type, payload,
// correlation_id, ...} body into a canonical envelope and submits it. The
// legacy path requires an idempotency key: a body without one is rejected
// with INVALID_PAYLOAD and no key is synthesized — see the design notes on
// why silent duplication was rejected as an option.
type LegacyRequest struct {
	Source         string          `json:"source"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	CorrelationID  string          `json:"correlation_id"`
	IdempotencyKey string          `json:"idempotency_key"`
	ActorID        string          `json:"actor_id"`
	AssetID        string          `json:"asset_id"`
	AnchorID       string          `json:"anchor_id"`
	Producer       string          `json:"producer"`
	ProducerVersion string         `json:"producer_version"`
	SchemaVersion  string          `json:"schema_version"`
}

func (e *Engine) SubmitLegacy(ctx context.Context, legacy LegacyRequest, activeSchemaVersion string) (Result, error) {
	if legacy.IdempotencyKey == "" {
		return Result{}, ledgererr.New(ledgererr.KindInvalidPayload, "idempotency_key is required")
	}
	if legacy.SchemaVersion == "" {
		legacy.SchemaVersion = activeSchemaVersion
	}
	if legacy.Producer == "" {
		legacy.Producer = legacy.Source
	}
	if legacy.ProducerVersion == "" {
		legacy.ProducerVersion = "legacy"
	}

	env := envelope.Envelope{
		SchemaVersion:    legacy.SchemaVersion,
		EventType:        legacy.EventType,
		OccurredAt:       nowRFC3339(),
		CorrelationID:    orDefault(legacy.CorrelationID, legacy.IdempotencyKey),
		IdempotencyKey:   legacy.IdempotencyKey,
		Producer:         legacy.Producer,
		ProducerVersion:  legacy.ProducerVersion,
		Subject:          orDefault(legacy.AssetID, legacy.AnchorID),
		Payload:          legacy.Payload,
		CanonicalHashHex: "",
		Signatures:       json.RawMessage(`[]`),
		ActorID:          legacy.ActorID,
		AssetID:          legacy.AssetID,
		AnchorID:         legacy.AnchorID,
	}

	raw, err := json.Marshal(env)
	if err != nil {
		return Result{}, fmt.Errorf("appendengine: marshal legacy envelope: %w", err)
	}
	return e.Submit(ctx, raw)
}

func orDefault(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

// projectVerificationFields extracts asset_state_hash, evidence_set_hash,
// and ruleset_version from a verification-relevant event's payload into the
// materialized projection columns. Events that don't carry these fields
// (everything except VERIFICATION_GRANTED today) leave all three empty, as
// the schema requires.
func projectVerificationFields(payload json.RawMessage) (assetStateHash, evidenceSetHash, rulesetVersion string) {
	var v struct {
		AssetStateHash  string `json:"asset_state_hash"`
		EvidenceSetHash string `json:"evidence_set_hash"`
		RulesetVersion  string `json:"ruleset_version"`
	}
	if err := json.Unmarshal(payload, &v); err != nil {
		return "", "", ""
	}
	return v.AssetStateHash, v.EvidenceSetHash, v.RulesetVersion
}
