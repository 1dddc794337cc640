package ledgerstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/terryholliday/proveniq-ledger/internal/canonical"
	"github.com/terryholliday/proveniq-ledger/internal/ledgererr"
)

// Driver names a supported database/sql backend. Placeholder syntax and
// the chain-lock strategy differ between them; everything else (the SQL
// shape, the column set) is shared.
type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverSQLite   Driver = "sqlite"
)

// chainLockKey is the advisory lock key reserved for this subsystem. No
// other subsystem may take a lock under this key.
const chainLockKey = int64(0x70726f76) // "prov" ascii, arbitrary but stable

// SQLStore implements Store over database/sql. On Postgres it serializes
// appends with pg_advisory_xact_lock, matching the process-wide chain lock
// described by the append engine's concurrency model. On SQLite (used for
// local integration tests without a live Postgres) there is no advisory
// lock primitive, so an in-process mutex plays the same role — correct
// because modernc.org/sqlite integration tests run single-process.
type SQLStore struct {
	db     *sql.DB
	driver Driver
	mu     sqliteMutex // no-op on postgres
}

type sqliteMutex struct{ ch chan struct{} }

func newSQLiteMutex() sqliteMutex {
	m := sqliteMutex{ch: make(chan struct{}, 1)}
	m.ch <- struct{}{}
	return m
}

func (m sqliteMutex) lock()   { <-m.ch }
func (m sqliteMutex) unlock() { m.ch <- struct{}{} }

// NewSQLStore wraps an open *sql.DB. driver selects placeholder syntax and
// lock strategy.
func NewSQLStore(db *sql.DB, driver Driver) *SQLStore {
	s := &SQLStore{db: db, driver: driver}
	if driver == DriverSQLite {
		s.mu = newSQLiteMutex()
	}
	return s
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS ledger_entries (
	id TEXT PRIMARY KEY,
	sequence_number BIGINT NOT NULL,
	event_type TEXT NOT NULL,
	schema_version TEXT NOT NULL,
	source TEXT NOT NULL,
	producer TEXT NOT NULL,
	correlation_id TEXT,
	actor_id TEXT,
	asset_id TEXT,
	anchor_id TEXT,
	payload TEXT NOT NULL,
	payload_hash TEXT NOT NULL,
	previous_hash TEXT,
	entry_hash TEXT NOT NULL,
	asset_state_hash TEXT,
	evidence_set_hash TEXT,
	ruleset_version TEXT,
	created_at TEXT NOT NULL,
	idempotency_key TEXT NOT NULL UNIQUE
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_entries_sequence ON ledger_entries(sequence_number);
CREATE INDEX IF NOT EXISTS idx_ledger_entries_asset ON ledger_entries(asset_id);
CREATE INDEX IF NOT EXISTS idx_ledger_entries_anchor ON ledger_entries(anchor_id);
CREATE INDEX IF NOT EXISTS idx_ledger_entries_correlation ON ledger_entries(correlation_id);
CREATE INDEX IF NOT EXISTS idx_ledger_entries_event_type ON ledger_entries(event_type);
CREATE INDEX IF NOT EXISTS idx_ledger_entries_source ON ledger_entries(source);
CREATE INDEX IF NOT EXISTS idx_ledger_entries_created_at ON ledger_entries(created_at);
`

// Init creates the ledger_entries table and its indexes if they do not
// already exist.
func (s *SQLStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schemaDDL)
	return err
}

func (s *SQLStore) ph(n int) string {
	if s.driver == DriverPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// Append implements the full append algorithm (spec §4.3, steps 1-6;
// webhook enqueue is step 7, driven by the caller after Append returns).
func (s *SQLStore) Append(ctx context.Context, req AppendRequest) (LedgerEntry, bool, error) {
	if s.driver == DriverSQLite {
		s.mu.lock()
		defer s.mu.unlock()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return LedgerEntry{}, false, fmt.Errorf("ledgerstore: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if s.driver == DriverPostgres {
		if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock("+fmt.Sprint(chainLockKey)+")"); err != nil {
			return LedgerEntry{}, false, fmt.Errorf("ledgerstore: acquire chain lock: %w", err)
		}
	}

	if existing, found, err := s.lookupIdempotency(ctx, tx, req.IdempotencyKey); err != nil {
		return LedgerEntry{}, false, err
	} else if found {
		if commitErr := tx.Commit(); commitErr != nil {
			return LedgerEntry{}, false, fmt.Errorf("ledgerstore: commit dedup read: %w", commitErr)
		}
		return existing, true, nil
	}

	head, hasHead, err := s.chainHeadTx(ctx, tx)
	if err != nil {
		return LedgerEntry{}, false, err
	}

	payloadHash, err := canonical.HashPayload(rawPayload(req.Payload))
	if err != nil {
		return LedgerEntry{}, false, fmt.Errorf("ledgerstore: hash payload: %w", err)
	}

	previousHash := ""
	var nextSeq int64 = 1
	if hasHead {
		previousHash = head.EntryHash
		nextSeq = head.SequenceNumber + 1
	}

	createdAt := time.Now().UTC().Format(time.RFC3339Nano)
	entryHash := canonical.HashEntry(payloadHash, previousHash, req.Source, req.EventType, createdAt)

	entry := LedgerEntry{
		ID:              uuid.New().String(),
		SequenceNumber:  nextSeq,
		EventType:       req.EventType,
		SchemaVersion:   req.SchemaVersion,
		Source:          req.Source,
		Producer:        req.Producer,
		CorrelationID:   req.CorrelationID,
		ActorID:         req.ActorID,
		AssetID:         req.AssetID,
		AnchorID:        req.AnchorID,
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

	insertSQL := fmt.Sprintf(`INSERT INTO ledger_entries
		(id, sequence_number, event_type, schema_version, source, producer,
		 correlation_id, actor_id, asset_id, anchor_id, payload, payload_hash,
		 previous_hash, entry_hash, asset_state_hash, evidence_set_hash,
		 ruleset_version, created_at, idempotency_key)
		VALUES (%s,%s,%s,%s,%s,%s,%s,%s,%s,%s,%s,%s,%s,%s,%s,%s,%s,%s,%s)`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6), s.ph(7), s.ph(8),
		s.ph(9), s.ph(10), s.ph(11), s.ph(12), s.ph(13), s.ph(14), s.ph(15),
		s.ph(16), s.ph(17), s.ph(18), s.ph(19))

	_, err = tx.ExecContext(ctx, insertSQL,
		entry.ID, entry.SequenceNumber, entry.EventType, entry.SchemaVersion,
		entry.Source, entry.Producer, nullable(entry.CorrelationID), nullable(entry.ActorID),
		nullable(entry.AssetID), nullable(entry.AnchorID), string(entry.Payload), entry.PayloadHash,
		nullable(entry.PreviousHash), entry.EntryHash, nullable(entry.AssetStateHash),
		nullable(entry.EvidenceSetHash), nullable(entry.RulesetVersion), entry.CreatedAt, entry.IdempotencyKey,
	)
	if err != nil {
		if isUniqueViolation(err) {
			// A concurrent duplicate committed between our idempotency
			// lookup and our insert. Retry the lookup once, outside this
			// now-doomed transaction.
			tx.Rollback() //nolint:errcheck
			existing, found, lookupErr := s.lookupIdempotencyNoTx(ctx, req.IdempotencyKey)
			if lookupErr != nil {
				return LedgerEntry{}, false, lookupErr
			}
			if found {
				return existing, true, nil
			}
		}
		return LedgerEntry{}, false, fmt.Errorf("ledgerstore: insert entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return LedgerEntry{}, false, fmt.Errorf("ledgerstore: commit: %w", err)
	}

	return entry, false, nil
}

func rawPayload(b []byte) interface{} {
	if len(b) == 0 {
		return map[string]interface{}{}
	}
	return json.RawMessage(b)
}

func (s *SQLStore) lookupIdempotency(ctx context.Context, tx *sql.Tx, key string) (LedgerEntry, bool, error) {
	row := tx.QueryRowContext(ctx, s.selectByColumn("idempotency_key"), key)
	return scanOneRow(row)
}

func (s *SQLStore) lookupIdempotencyNoTx(ctx context.Context, key string) (LedgerEntry, bool, error) {
	row := s.db.QueryRowContext(ctx, s.selectByColumn("idempotency_key"), key)
	return scanOneRow(row)
}

func (s *SQLStore) chainHeadTx(ctx context.Context, tx *sql.Tx) (LedgerEntry, bool, error) {
	q := "SELECT " + entryColumns + " FROM ledger_entries ORDER BY sequence_number DESC LIMIT 1"
	row := tx.QueryRowContext(ctx, q)
	return scanOneRow(row)
}

func (s *SQLStore) ChainHead(ctx context.Context) (LedgerEntry, bool, error) {
	q := "SELECT " + entryColumns + " FROM ledger_entries ORDER BY sequence_number DESC LIMIT 1"
	row := s.db.QueryRowContext(ctx, q)
	return scanOneRow(row)
}

func (s *SQLStore) selectByColumn(col string) string {
	return "SELECT " + entryColumns + " FROM ledger_entries WHERE " + col + " = " + s.ph(1)
}

func (s *SQLStore) GetByID(ctx context.Context, id string) (LedgerEntry, error) {
	row := s.db.QueryRowContext(ctx, s.selectByColumn("id"), id)
	e, found, err := scanOneRow(row)
	if err != nil {
		return LedgerEntry{}, err
	}
	if !found {
		return LedgerEntry{}, ErrNotFound
	}
	return e, nil
}

func (s *SQLStore) GetByIdempotencyKey(ctx context.Context, key string) (LedgerEntry, error) {
	row := s.db.QueryRowContext(ctx, s.selectByColumn("idempotency_key"), key)
	e, found, err := scanOneRow(row)
	if err != nil {
		return LedgerEntry{}, err
	}
	if !found {
		return LedgerEntry{}, ErrNotFound
	}
	return e, nil
}

func (s *SQLStore) ListByAsset(ctx context.Context, assetID string, limit, offset int) ([]LedgerEntry, error) {
	q := fmt.Sprintf("SELECT %s FROM ledger_entries WHERE asset_id = %s ORDER BY sequence_number ASC LIMIT %s OFFSET %s",
		entryColumns, s.ph(1), s.ph(2), s.ph(3))
	return s.queryList(ctx, q, assetID, limit, offset)
}

func (s *SQLStore) ListByAnchor(ctx context.Context, anchorID string, limit, offset int) ([]LedgerEntry, error) {
	q := fmt.Sprintf("SELECT %s FROM ledger_entries WHERE anchor_id = %s ORDER BY sequence_number ASC LIMIT %s OFFSET %s",
		entryColumns, s.ph(1), s.ph(2), s.ph(3))
	return s.queryList(ctx, q, anchorID, limit, offset)
}

func (s *SQLStore) ListRange(ctx context.Context, fromSeq, toSeq int64, limit int) ([]LedgerEntry, error) {
	q := fmt.Sprintf("SELECT %s FROM ledger_entries WHERE sequence_number >= %s AND sequence_number <= %s ORDER BY sequence_number ASC LIMIT %s",
		entryColumns, s.ph(1), s.ph(2), s.ph(3))
	rows, err := s.db.QueryContext(ctx, q, fromSeq, toSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("ledgerstore: list range: %w", err)
	}
	defer rows.Close()
	return scanRows(rows)
}

func (s *SQLStore) List(ctx context.Context, limit, offset int) ([]LedgerEntry, error) {
	q := fmt.Sprintf("SELECT %s FROM ledger_entries ORDER BY sequence_number ASC LIMIT %s OFFSET %s",
		entryColumns, s.ph(1), s.ph(2))
	rows, err := s.db.QueryContext(ctx, q, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ledgerstore: list: %w", err)
	}
	defer rows.Close()
	return scanRows(rows)
}

func (s *SQLStore) queryList(ctx context.Context, q, key string, limit, offset int) ([]LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, q, key, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ledgerstore: query: %w", err)
	}
	defer rows.Close()
	return scanRows(rows)
}

func (s *SQLStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM ledger_entries").Scan(&n)
	return n, err
}

const entryColumns = `id, sequence_number, event_type, schema_version, source, producer,
	correlation_id, actor_id, asset_id, anchor_id, payload, payload_hash,
	previous_hash, entry_hash, asset_state_hash, evidence_set_hash,
	ruleset_version, created_at, idempotency_key`

func scanOneRow(row *sql.Row) (LedgerEntry, bool, error) {
	var e LedgerEntry
	var correlationID, actorID, assetID, anchorID, previousHash, assetStateHash, evidenceSetHash, rulesetVersion sql.NullString
	var payload string

	err := row.Scan(
		&e.ID, &e.SequenceNumber, &e.EventType, &e.SchemaVersion, &e.Source, &e.Producer,
		&correlationID, &actorID, &assetID, &anchorID, &payload, &e.PayloadHash,
		&previousHash, &e.EntryHash, &assetStateHash, &evidenceSetHash,
		&rulesetVersion, &e.CreatedAt, &e.IdempotencyKey,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return LedgerEntry{}, false, nil
	}
	if err != nil {
		return LedgerEntry{}, false, fmt.Errorf("ledgerstore: scan: %w", err)
	}

	e.CorrelationID = correlationID.String
	e.ActorID = actorID.String
	e.AssetID = assetID.String
	e.AnchorID = anchorID.String
	e.PreviousHash = previousHash.String
	e.AssetStateHash = assetStateHash.String
	e.EvidenceSetHash = evidenceSetHash.String
	e.RulesetVersion = rulesetVersion.String
	e.Payload = []byte(payload)

	return e, true, nil
}

func scanRows(rows *sql.Rows) ([]LedgerEntry, error) {
	var out []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		var correlationID, actorID, assetID, anchorID, previousHash, assetStateHash, evidenceSetHash, rulesetVersion sql.NullString
		var payload string

		if err := rows.Scan(
			&e.ID, &e.SequenceNumber, &e.EventType, &e.SchemaVersion, &e.Source, &e.Producer,
			&correlationID, &actorID, &assetID, &anchorID, &payload, &e.PayloadHash,
			&previousHash, &e.EntryHash, &assetStateHash, &evidenceSetHash,
			&rulesetVersion, &e.CreatedAt, &e.IdempotencyKey,
		); err != nil {
			return nil, fmt.Errorf("ledgerstore: scan row: %w", err)
		}
		e.CorrelationID = correlationID.String
		e.ActorID = actorID.String
		e.AssetID = assetID.String
		e.AnchorID = anchorID.String
		e.PreviousHash = previousHash.String
		e.AssetStateHash = assetStateHash.String
		e.EvidenceSetHash = evidenceSetHash.String
		e.RulesetVersion = rulesetVersion.String
		e.Payload = []byte(payload)
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}

// LedgerErrForNotFound wraps ErrNotFound as a ledgererr.Error with
// EVENT_NOT_FOUND, the kind callers at the HTTP boundary expect.
func LedgerErrForNotFound(err error) error {
	if errors.Is(err, ErrNotFound) {
		return ledgererr.New(ledgererr.KindEventNotFound, "entry not found")
	}
	return err
}
