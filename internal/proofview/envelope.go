package proofview

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

func mustJSON(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// canonicalEventEnvelope builds the minimal canonical envelope for an
// internally generated lifecycle event (PROOF_VIEW_CREATED/REVOKED),
// which never needs producer signatures since it originates in-process.
func canonicalEventEnvelope(eventType, assetID string, payload []byte) []byte {
	key := uuid.New().String()
	env := map[string]interface{}{
		"schema_version":     "1.0.0",
		"event_type":         eventType,
		"occurred_at":        time.Now().UTC().Format(time.RFC3339Nano),
		"correlation_id":     key,
		"idempotency_key":    key,
		"producer":           "proofview-service",
		"producer_version":   "internal",
		"subject":            "asset:" + assetID,
		"payload":            json.RawMessage(payload),
		"canonical_hash_hex": "",
		"signatures":         []interface{}{},
		"asset_id":           assetID,
	}
	return mustJSON(env)
}
