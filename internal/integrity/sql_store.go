package integrity

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/terryholliday/proveniq-ledger/internal/ledgerstore"
)

// SQLCheckpointStore persists IntegrityCheckpoint rows.
type SQLCheckpointStore struct {
	db     *sql.DB
	driver ledgerstore.Driver
}

func NewSQLCheckpointStore(db *sql.DB, driver ledgerstore.Driver) *SQLCheckpointStore {
	return &SQLCheckpointStore{db: db, driver: driver}
}

const checkpointSchemaDDL = `
CREATE TABLE IF NOT EXISTS integrity_checkpoints (
	checkpoint_sequence BIGINT PRIMARY KEY,
	checkpoint_hash TEXT NOT NULL,
	entries_count BIGINT NOT NULL,
	verified_at TEXT NOT NULL
);
`

func (s *SQLCheckpointStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, checkpointSchemaDDL)
	return err
}

func (s *SQLCheckpointStore) ph(n int) string {
	if s.driver == ledgerstore.DriverPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (s *SQLCheckpointStore) SaveCheckpoint(ctx context.Context, cp ledgerstore.IntegrityCheckpoint) error {
	q := fmt.Sprintf(`INSERT INTO integrity_checkpoints (checkpoint_sequence, checkpoint_hash, entries_count, verified_at)
		VALUES (%s,%s,%s,%s)
		ON CONFLICT (checkpoint_sequence) DO UPDATE SET checkpoint_hash = excluded.checkpoint_hash,
			entries_count = excluded.entries_count, verified_at = excluded.verified_at`, s.ph(1), s.ph(2), s.ph(3), s.ph(4))
	_, err := s.db.ExecContext(ctx, q, cp.CheckpointSequence, cp.CheckpointHash, cp.EntriesCount, cp.VerifiedAt.Format(time.RFC3339Nano))
	return err
}
