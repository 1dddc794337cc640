package ledgerstore

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppend_Genesis(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewSQLStore(db, DriverPostgres)

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT .* FROM ledger_entries WHERE idempotency_key").
		WithArgs("k1").
		WillReturnRows(sqlmock.NewRows(nil))
	mock.ExpectQuery("SELECT .* FROM ledger_entries ORDER BY sequence_number DESC").
		WillReturnRows(sqlmock.NewRows(nil))
	mock.ExpectExec("INSERT INTO ledger_entries").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	entry, deduped, err := store.Append(context.Background(), AppendRequest{
		EventType:      "HOME_ASSET_REGISTERED",
		SchemaVersion:  "1.0.0",
		Source:         "home",
		Producer:       "home-service",
		Payload:        []byte(`{"asset_id":"A"}`),
		IdempotencyKey: "k1",
	})
	require.NoError(t, err)
	assert.False(t, deduped)
	assert.Equal(t, int64(1), entry.SequenceNumber)
	assert.Empty(t, entry.PreviousHash)
	assert.NotEmpty(t, entry.EntryHash)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppend_Dedup(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewSQLStore(db, DriverPostgres)

	existingRow := sqlmock.NewRows([]string{
		"id", "sequence_number", "event_type", "schema_version", "source", "producer",
		"correlation_id", "actor_id", "asset_id", "anchor_id", "payload", "payload_hash",
		"previous_hash", "entry_hash", "asset_state_hash", "evidence_set_hash",
		"ruleset_version", "created_at", "idempotency_key",
	}).AddRow(
		"id-1", int64(1), "HOME_ASSET_REGISTERED", "1.0.0", "home", "home-service",
		nil, nil, nil, nil, `{"asset_id":"A"}`, "ph",
		nil, "eh", nil, nil,
		nil, "2026-01-01T00:00:00Z", "k1",
	)

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT .* FROM ledger_entries WHERE idempotency_key").
		WithArgs("k1").
		WillReturnRows(existingRow)
	mock.ExpectCommit()

	entry, deduped, err := store.Append(context.Background(), AppendRequest{
		EventType:      "HOME_ASSET_REGISTERED",
		SchemaVersion:  "1.0.0",
		Source:         "home",
		Producer:       "home-service",
		Payload:        []byte(`{"asset_id":"A"}`),
		IdempotencyKey: "k1",
	})
	require.NoError(t, err)
	assert.True(t, deduped)
	assert.Equal(t, "id-1", entry.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}
