package proofview

import (
	"time"

	"github.com/terryholliday/proveniq-ledger/internal/canonical"
)

// attestationNode is a single step in a proof's own creation/revocation
// attestation trail: a tiny two-node chain (created, optionally revoked)
// hashed the same way the teacher's proof-graph nodes were — a canonical
// JCS encoding of everything except the node's own hash — just narrowed
// from a general DAG down to exactly the two transitions a proof can go
// through.
type attestationNode struct {
	ProofID   string `json:"proof_id"`
	Kind      string `json:"kind"`
	ParentHash string `json:"parent_hash,omitempty"`
	Timestamp string `json:"timestamp"`
}

// computeAttestationHash hashes an attestation node the way
// proofgraph.Node.ComputeNodeHash did: canonical JCS of the node minus its
// own hash field, then sha256.
func computeAttestationHash(node attestationNode) (string, error) {
	return canonical.CanonicalHash(node)
}

// createdAttestation returns the hash anchoring a proof's creation.
func createdAttestation(proofID string, at time.Time) (string, error) {
	return computeAttestationHash(attestationNode{
		ProofID:   proofID,
		Kind:      "created",
		Timestamp: at.Format(time.RFC3339Nano),
	})
}

// revokedAttestation returns the hash anchoring a proof's revocation,
// chained to the hash of its creation node.
func revokedAttestation(proofID, createdHash string, at time.Time) (string, error) {
	return computeAttestationHash(attestationNode{
		ProofID:    proofID,
		Kind:       "revoked",
		ParentHash: createdHash,
		Timestamp:  at.Format(time.RFC3339Nano),
	})
}
