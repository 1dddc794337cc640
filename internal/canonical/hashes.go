package canonical

import (
	"sort"
	"strings"
)

// GenesisMarker substitutes for previous_hash when hashing the first entry
// in a chain (there is no predecessor hash to fold in).
const GenesisMarker = "GENESIS"

// HashPayload computes hash_payload(p) = SHA-256(canonical_json(p)).
func HashPayload(payload interface{}) (string, error) {
	return CanonicalHash(payload)
}

// HashEntry computes
//
//	hash_entry(payload_hash, previous_hash, source, event_type, created_at)
//
// as the SHA-256 of the five values joined by the byte '|', substituting
// the literal string GENESIS when previousHash is empty (no predecessor).
//
// created_at must be the exact string that will be stored for the entry —
// reformatting it (e.g. through a different time layout) changes the hash.
func HashEntry(payloadHash, previousHash, source, eventType, createdAt string) string {
	prev := previousHash
	if prev == "" {
		prev = GenesisMarker
	}
	joined := strings.Join([]string{payloadHash, prev, source, eventType, createdAt}, "|")
	return Sum256([]byte(joined))
}

// HashEvidenceSet computes hash_evidence_set(content_hashes) as the SHA-256
// of the sorted content hashes joined by '|'.
func HashEvidenceSet(contentHashes []string) string {
	sorted := append([]string(nil), contentHashes...)
	sort.Strings(sorted)
	return Sum256([]byte(strings.Join(sorted, "|")))
}

// AssetState is the object hashed by hash_asset_state: a claim, the sorted
// evidence hashes backing it, and the ruleset version the claim was
// evaluated under.
type AssetState struct {
	ClaimJSON      interface{} `json:"claim_json"`
	EvidenceHashes []string    `json:"evidence_hashes"`
	RulesetVersion string      `json:"ruleset_version"`
}

// HashAssetState computes hash_asset_state({claim_json, evidence_hashes,
// ruleset_version}) as the canonical hash of the object.
func HashAssetState(state AssetState) (string, error) {
	sorted := append([]string(nil), state.EvidenceHashes...)
	sort.Strings(sorted)
	state.EvidenceHashes = sorted
	return CanonicalHash(state)
}
