// Package ledgerstore defines the ledger's persisted row types and the
// storage interface the append engine, reducer, and proof-view service
// depend on.
package ledgerstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup by id, hash, or idempotency key
// finds no row.
var ErrNotFound = errors.New("ledgerstore: not found")

// LedgerEntry is a single append-only, immutable row in the chain.
type LedgerEntry struct {
	ID             string
	SequenceNumber int64
	EventType      string
	SchemaVersion  string
	Source         string
	Producer       string
	CorrelationID  string
	ActorID        string
	AssetID        string
	AnchorID       string
	Payload        []byte // canonical JSON object, opaque to the store
	PayloadHash    string
	PreviousHash   string // empty for sequence 1 (GENESIS)
	EntryHash      string
	AssetStateHash string // empty when not verification-relevant
	EvidenceSetHash string
	RulesetVersion string
	CreatedAt      string // RFC3339Nano; stored verbatim, part of the hash domain
	IdempotencyKey string
}

// EvidenceSnapshot is a materialized, rebuildable projection row.
type EvidenceSnapshot struct {
	AssetID     string
	EvidenceID  string
	ContentHash string
	StorageRef  string
	Metadata    map[string]string
}

// ProofView is a time-bound, snapshot-bound proof of verification.
type ProofView struct {
	ProofID             string
	AssetID             string
	VerificationEventID string
	SnapshotHash        string
	AssetStateHash      string
	EvidenceSetHash     string
	RulesetVersion      string
	ExpiresAt           time.Time
	RevokedAt           *time.Time
	CreatedBy           string
	Scope               string

	// CreationAttestationHash anchors the proof's creation node in its own
	// tiny attestation chain, persisted so Revoke can chain a revocation
	// node to it without any in-process state.
	CreationAttestationHash string
}

// Subscription describes a webhook subscriber's matching criteria.
type Subscription struct {
	ID           string   `json:"id"`
	SubscriberID string   `json:"subscriber_id"`
	WebhookURL   string   `json:"webhook_url"`
	EventTypes   []string `json:"event_types,omitempty"` // empty means "all event types"
	SourceFilter []string `json:"source_filter,omitempty"` // empty means "all sources"
	Secret       string   `json:"secret"`
	Active       bool     `json:"active"`
}

// DeliveryStatus is the lifecycle state of a WebhookDelivery.
type DeliveryStatus string

const (
	DeliveryPending    DeliveryStatus = "pending"
	DeliveryDelivered  DeliveryStatus = "delivered"
	DeliveryFailed     DeliveryStatus = "failed"
	DeliveryDeadLetter DeliveryStatus = "dead_letter"
)

// WebhookDelivery is a single delivery attempt record for one subscription
// receiving one event.
type WebhookDelivery struct {
	ID             string
	SubscriptionID string
	EventID        string
	Status         DeliveryStatus
	Attempts       int
	LastAttemptAt  *time.Time
	NextRetryAt    time.Time
	LastError      string
	ResponseStatus int
	ResponseBody   string
	ClaimedBy      string
	ClaimedAt      *time.Time
}

// DeadLetter captures a permanently failed delivery for operator review.
type DeadLetter struct {
	ID             string
	DeliveryID     string
	SubscriptionID string
	EventID        string
	EventSnapshot  []byte
	FailureReason  string
	CreatedAt      time.Time
}

// IntegrityCheckpoint records the result of one integrity verification run
// over a range of the chain.
type IntegrityCheckpoint struct {
	CheckpointSequence int64
	CheckpointHash     string
	EntriesCount       int64
	VerifiedAt         time.Time
}

// AppendRequest carries everything the store needs to compute and persist
// the next entry; hashing happens inside Append so the chain-head read and
// the hash computation observe the same locked snapshot.
type AppendRequest struct {
	EventType       string
	SchemaVersion   string
	Source          string
	Producer        string
	CorrelationID   string
	ActorID         string
	AssetID         string
	AnchorID        string
	Payload         []byte
	IdempotencyKey  string
	AssetStateHash  string
	EvidenceSetHash string
	RulesetVersion  string
}

// Store is the persistence contract the append engine, reducer, and
// proof-view service depend on. A single implementation shape (SQLStore)
// backs it over either Postgres (lib/pq) or a pure-Go SQLite engine for
// integration tests, differing only in placeholder syntax and lock
// strategy.
type Store interface {
	// Append performs the full append algorithm: acquire the chain lock,
	// check idempotency, read the chain head, compute hashes, insert, and
	// commit. Returns the committed (or deduped) entry.
	Append(ctx context.Context, req AppendRequest) (entry LedgerEntry, deduped bool, err error)

	GetByID(ctx context.Context, id string) (LedgerEntry, error)
	GetByIdempotencyKey(ctx context.Context, key string) (LedgerEntry, error)
	ChainHead(ctx context.Context) (LedgerEntry, bool, error)

	ListByAsset(ctx context.Context, assetID string, limit, offset int) ([]LedgerEntry, error)
	ListByAnchor(ctx context.Context, anchorID string, limit, offset int) ([]LedgerEntry, error)
	ListRange(ctx context.Context, fromSeq, toSeq int64, limit int) ([]LedgerEntry, error)
	List(ctx context.Context, limit, offset int) ([]LedgerEntry, error)

	Count(ctx context.Context) (int64, error)
}
