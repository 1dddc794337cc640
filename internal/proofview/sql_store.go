package proofview

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/terryholliday/proveniq-ledger/internal/ledgerstore"
)

// SQLStore persists ProofView rows over database/sql, following the same
// placeholder-and-driver split as ledgerstore.SQLStore.
type SQLStore struct {
	db     *sql.DB
	driver ledgerstore.Driver
}

func NewSQLStore(db *sql.DB, driver ledgerstore.Driver) *SQLStore {
	return &SQLStore{db: db, driver: driver}
}

const proofViewSchemaDDL = `
CREATE TABLE IF NOT EXISTS proof_views (
	proof_id                  TEXT PRIMARY KEY,
	asset_id                  TEXT NOT NULL,
	verification_event_id     TEXT NOT NULL,
	snapshot_hash             TEXT NOT NULL,
	asset_state_hash          TEXT NOT NULL,
	evidence_set_hash         TEXT NOT NULL,
	ruleset_version           TEXT NOT NULL,
	expires_at                TEXT NOT NULL,
	revoked_at                TEXT,
	created_by                TEXT,
	scope                     TEXT,
	creation_attestation_hash TEXT NOT NULL
);
`

func (s *SQLStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, proofViewSchemaDDL)
	return err
}

func (s *SQLStore) ph(n int) string {
	if s.driver == ledgerstore.DriverPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (s *SQLStore) Insert(ctx context.Context, pv ledgerstore.ProofView) error {
	q := fmt.Sprintf(`INSERT INTO proof_views
		(proof_id, asset_id, verification_event_id, snapshot_hash, asset_state_hash, evidence_set_hash, ruleset_version, expires_at, created_by, scope, creation_attestation_hash)
		VALUES (%s,%s,%s,%s,%s,%s,%s,%s,%s,%s,%s)`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6), s.ph(7), s.ph(8), s.ph(9), s.ph(10), s.ph(11))
	_, err := s.db.ExecContext(ctx, q,
		pv.ProofID, pv.AssetID, pv.VerificationEventID, pv.SnapshotHash, pv.AssetStateHash,
		pv.EvidenceSetHash, pv.RulesetVersion, pv.ExpiresAt.Format(time.RFC3339Nano), pv.CreatedBy, pv.Scope,
		pv.CreationAttestationHash)
	return err
}

func (s *SQLStore) Get(ctx context.Context, proofID string) (ledgerstore.ProofView, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT proof_id, asset_id, verification_event_id, snapshot_hash,
		asset_state_hash, evidence_set_hash, ruleset_version, expires_at, revoked_at, created_by, scope, creation_attestation_hash
		FROM proof_views WHERE proof_id = %s`, s.ph(1)), proofID)

	var pv ledgerstore.ProofView
	var expiresAt string
	var revokedAt sql.NullString
	var createdBy, scope sql.NullString
	err := row.Scan(&pv.ProofID, &pv.AssetID, &pv.VerificationEventID, &pv.SnapshotHash,
		&pv.AssetStateHash, &pv.EvidenceSetHash, &pv.RulesetVersion, &expiresAt, &revokedAt, &createdBy, &scope,
		&pv.CreationAttestationHash)
	if errors.Is(err, sql.ErrNoRows) {
		return ledgerstore.ProofView{}, ledgerstore.ErrNotFound
	}
	if err != nil {
		return ledgerstore.ProofView{}, fmt.Errorf("proofview: get: %w", err)
	}

	pv.ExpiresAt, _ = time.Parse(time.RFC3339Nano, expiresAt)
	pv.CreatedBy = createdBy.String
	pv.Scope = scope.String
	if revokedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, revokedAt.String)
		if err == nil {
			pv.RevokedAt = &t
		}
	}
	return pv, nil
}

func (s *SQLStore) Revoke(ctx context.Context, proofID string, revokedAt time.Time) error {
	q := fmt.Sprintf(`UPDATE proof_views SET revoked_at = %s WHERE proof_id = %s`, s.ph(1), s.ph(2))
	res, err := s.db.ExecContext(ctx, q, revokedAt.Format(time.RFC3339Nano), proofID)
	if err != nil {
		return fmt.Errorf("proofview: revoke: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("proofview: revoke: %w", err)
	}
	if n == 0 {
		return ledgerstore.ErrNotFound
	}
	return nil
}
