// Package envelope validates submitted events against the canonical
// envelope shape, normalizes legacy event-type aliases, and gates the
// producer-declared schema version against what this deployment accepts.
package envelope

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/terryholliday/proveniq-ledger/internal/ledgererr"
)

// Envelope is the canonical event envelope described by the envelope
// schema below. Payload is kept as json.RawMessage — the validator never
// interprets payload contents, only its presence.
type Envelope struct {
	SchemaVersion    string          `json:"schema_version"`
	EventType        string          `json:"event_type"`
	OccurredAt       string          `json:"occurred_at"`
	CorrelationID    string          `json:"correlation_id"`
	IdempotencyKey   string          `json:"idempotency_key"`
	Producer         string          `json:"producer"`
	ProducerVersion  string          `json:"producer_version"`
	Subject          string          `json:"subject"`
	Payload          json.RawMessage `json:"payload"`
	CanonicalHashHex string          `json:"canonical_hash_hex"`
	Signatures       json.RawMessage `json:"signatures"`

	// ActorID, AssetID, AnchorID are optional correlation fields carried
	// through to the ledger entry when present.
	ActorID  string `json:"actor_id,omitempty"`
	AssetID  string `json:"asset_id,omitempty"`
	AnchorID string `json:"anchor_id,omitempty"`
}

const envelopeSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": [
    "schema_version", "event_type", "occurred_at", "correlation_id",
    "idempotency_key", "producer", "producer_version", "subject",
    "payload", "canonical_hash_hex", "signatures"
  ],
  "properties": {
    "schema_version": {"type": "string", "minLength": 1},
    "event_type": {"type": "string", "minLength": 1},
    "occurred_at": {"type": "string", "minLength": 1},
    "correlation_id": {"type": "string", "minLength": 1},
    "idempotency_key": {"type": "string", "minLength": 1},
    "producer": {"type": "string", "minLength": 1},
    "producer_version": {"type": "string", "minLength": 1},
    "subject": {"type": "string", "minLength": 1}
  }
}`

// Schema is the compiled JSON Schema used to check the required-field
// shape of a submitted envelope before it is unmarshaled into an Envelope.
var Schema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("envelope.json", strings.NewReader(envelopeSchemaJSON)); err != nil {
		panic(fmt.Sprintf("envelope: invalid embedded schema: %v", err))
	}
	schema, err := compiler.Compile("envelope.json")
	if err != nil {
		panic(fmt.Sprintf("envelope: schema compile failed: %v", err))
	}
	return schema
}

// Validator checks submitted envelopes against the required-field schema,
// the canonical event-type taxonomy, and the configured active schema
// version.
type Validator struct {
	allowedRange []*semver.Constraints
}

// NewValidator builds a Validator accepting exactly the versions named in
// allowedVersions (each parsed as an exact semver, not a range — the ledger
// does not interpolate between schema revisions).
func NewValidator(allowedVersions []string) (*Validator, error) {
	v := &Validator{}
	for _, raw := range allowedVersions {
		c, err := semver.NewConstraint("= " + raw)
		if err != nil {
			return nil, fmt.Errorf("envelope: invalid allowed schema version %q: %w", raw, err)
		}
		v.allowedRange = append(v.allowedRange, c)
	}
	return v, nil
}

// ValidationOutcome is returned by Validate on success: the canonical
// (post-alias) event type, and whether the original was a legacy alias.
type ValidationOutcome struct {
	Envelope       Envelope
	CanonicalType  string
	OriginalType   string
	WasLegacyAlias bool
}

// Validate checks raw against the envelope schema, the event-type
// taxonomy, and the schema-version allow-list, in that order — matching
// the order errors are named in the component design.
func (v *Validator) Validate(raw []byte) (*ValidationOutcome, error) {
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, ledgererr.Wrap(ledgererr.KindCanonicalSchemaViolation, "malformed JSON body", err)
	}
	if err := Schema.Validate(generic); err != nil {
		return nil, ledgererr.Wrap(ledgererr.KindCanonicalSchemaViolation, err.Error(), err)
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, ledgererr.Wrap(ledgererr.KindCanonicalSchemaViolation, "envelope decode failed", err)
	}

	canonicalType, wasAlias, known := Normalize(env.EventType)
	if !known {
		return nil, ledgererr.New(ledgererr.KindInvalidEventType, env.EventType)
	}

	if !v.versionAllowed(env.SchemaVersion) {
		return nil, ledgererr.New(ledgererr.KindUnsupportedSchemaVersion, env.SchemaVersion)
	}

	return &ValidationOutcome{
		Envelope:       env,
		CanonicalType:  canonicalType,
		OriginalType:   env.EventType,
		WasLegacyAlias: wasAlias,
	}, nil
}

func (v *Validator) versionAllowed(raw string) bool {
	ver, err := semver.NewVersion(raw)
	if err != nil {
		return false
	}
	if len(v.allowedRange) == 0 {
		return true
	}
	for _, c := range v.allowedRange {
		if c.Check(ver) {
			return true
		}
	}
	return false
}
