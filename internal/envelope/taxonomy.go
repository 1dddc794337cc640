package envelope

// CanonicalEventTypes is the closed set of event types accepted by the
// ledger, extended only by a schema-version bump. The verification
// lifecycle types are the ones the reducer (internal/reducer) understands;
// the domain families (HOME_*, SERVICE_*, CLAIM_*, CAPITAL_*, OPS_*,
// PROPERTIES_*) are opaque to the reducer and simply recorded.
var CanonicalEventTypes = map[string]bool{
	// HOME_*
	"HOME_ASSET_REGISTERED": true,
	"HOME_PHOTO_ADDED":      true,
	"HOME_INSPECTION_LOGGED": true,

	// SERVICE_*
	"SERVICE_REQUEST_CREATED": true,
	"SERVICE_COMPLETED":       true,
	"SERVICE_CANCELLED":       true,

	// CLAIM_* (domain claims filed against an asset, distinct from the
	// verification-lifecycle CLAIM_ADDED/CLAIM_UPDATED below)
	"CLAIM_FILED":    true,
	"CLAIM_SETTLED":  true,
	"CLAIM_REJECTED": true,

	// CAPITAL_*
	"CAPITAL_DISBURSED": true,
	"CAPITAL_REPAID":    true,

	// OPS_*
	"OPS_INCIDENT_OPENED": true,
	"OPS_INCIDENT_CLOSED": true,

	// PROPERTIES_*
	"PROPERTIES_LISTED": true,
	"PROPERTIES_SOLD":   true,
	"PROPERTIES_DELISTED": true,

	// Verification lifecycle — understood by internal/reducer.
	"CLAIM_ADDED":          true,
	"CLAIM_UPDATED":        true,
	"EVIDENCE_ADDED":       true,
	"EVIDENCE_FROZEN":      true,
	"FREEZE_LIFTED":        true,
	"DISPUTE_FILED":        true,
	"DISPUTE_RESOLVED":     true,
	"VERIFICATION_GRANTED": true,
	"VERIFICATION_REVOKED": true,
	"PROOF_VIEW_CREATED":   true,
	"PROOF_VIEW_REVOKED":   true,
	"STATE_HASH_MISMATCH":  true,
}

// LegacyAliases maps retired VERIFY_* event-type names to their canonical
// replacement. Producers still sending the legacy name are accepted and
// silently upgraded; the original name is preserved in the audit trail.
var LegacyAliases = map[string]string{
	"VERIFY_CLAIM_ADDED":      "CLAIM_ADDED",
	"VERIFY_CLAIM_UPDATED":    "CLAIM_UPDATED",
	"VERIFY_EVIDENCE_ADDED":   "EVIDENCE_ADDED",
	"VERIFY_FROZEN":           "EVIDENCE_FROZEN",
	"VERIFY_UNFROZEN":         "FREEZE_LIFTED",
	"VERIFY_DISPUTE_FILED":    "DISPUTE_FILED",
	"VERIFY_DISPUTE_RESOLVED": "DISPUTE_RESOLVED",
	"VERIFY_GRANTED":          "VERIFICATION_GRANTED",
	"VERIFY_REVOKED":          "VERIFICATION_REVOKED",
	"VERIFY_PROOF_CREATED":    "PROOF_VIEW_CREATED",
	"VERIFY_PROOF_REVOKED":    "PROOF_VIEW_REVOKED",
}

// Normalize resolves a legacy alias to its canonical form. ok reports
// whether eventType (after normalization) is in the canonical taxonomy, and
// wasAlias reports whether a rewrite happened (callers use this to decide
// whether to record the original in the audit trail).
func Normalize(eventType string) (canonical string, wasAlias bool, ok bool) {
	if mapped, isAlias := LegacyAliases[eventType]; isAlias {
		return mapped, true, CanonicalEventTypes[mapped]
	}
	return eventType, false, CanonicalEventTypes[eventType]
}
