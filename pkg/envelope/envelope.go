// Package envelope defines the immutable hand-off record between the
// Gateway and every downstream consumer (§3.2).
package envelope

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const SchemaVersion = "envelope.v1"

var payloadRefRe = regexp.MustCompile(`^cas:sha256:[0-9a-f]{64}$`)
var sha256HexRe = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Request captures the effective outbound request that produced the
// payload, for idempotency-key computation and diagnostics.
type Request struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers,omitempty"`
}

// Canonical returns a deterministic representation of the request used as
// idempotency-key input (method + url + sorted headers).
func (r Request) Canonical() map[string]any {
	return map[string]any{
		"method":  strings.ToUpper(strings.TrimSpace(r.Method)),
		"url":     strings.TrimSpace(r.URL),
		"headers": r.Headers,
	}
}

type Checksum struct {
	SHA256 string `json:"sha256"`
}

type PayloadMeta struct {
	Bytes       int64    `json:"bytes"`
	Checksum    Checksum `json:"checksum"`
	ContentType string   `json:"content_type"`
}

// PolicyDecision records one policy check outcome made during envelope
// construction (e.g. MIME allow-list, size cap, license gate).
type PolicyDecision struct {
	Check   string `json:"check"`
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Envelope is the immutable ingest-log record (§3.2).
type Envelope struct {
	EnvelopeID       uuid.UUID        `json:"envelope_id"`
	SourceID         string           `json:"source_id"`
	FetchedAt        time.Time        `json:"fetched_at"`
	Request          Request          `json:"request"`
	PayloadMeta      PayloadMeta      `json:"payload_meta"`
	PayloadRef       string           `json:"payload_ref"`
	IdempotencyKey   string           `json:"idempotency_key"`
	DedupeOf         *uuid.UUID       `json:"dedupe_of,omitempty"`
	PolicyDecisions  []PolicyDecision `json:"policy_decisions,omitempty"`
	SchemaVersion    string           `json:"schema_version"`
}

var (
	ErrSourceIDRequired   = errors.New("envelope: source_id is required")
	ErrPayloadRefInvalid  = errors.New("envelope: payload_ref must match cas:sha256:<hex>")
	ErrChecksumInvalid    = errors.New("envelope: payload_meta.checksum.sha256 must be 64 lowercase hex chars")
	ErrSchemaVersion      = errors.New("envelope: schema_version must be envelope.v1")
	ErrIdempotencyMissing = errors.New("envelope: idempotency_key is required")
	ErrEnvelopeIDNil      = errors.New("envelope: envelope_id is required")
	ErrPolicyRejected     = errors.New("envelope: rejected by policy")
)

// ValidRef reports whether ref matches the CAS reference grammar (§6).
func ValidRef(ref string) bool { return payloadRefRe.MatchString(ref) }

// RefFor builds a cas:sha256:<hex> reference from a hex digest.
func RefFor(hexDigest string) string { return "cas:sha256:" + hexDigest }

// Validate checks the structural invariants of §3.2/§6. It does not
// contact the CAS; callers verify byte-equivalence separately.
func (e Envelope) Validate() error {
	if e.EnvelopeID == uuid.Nil {
		return ErrEnvelopeIDNil
	}
	if strings.TrimSpace(e.SourceID) == "" {
		return ErrSourceIDRequired
	}
	if e.SchemaVersion != SchemaVersion {
		return ErrSchemaVersion
	}
	if !sha256HexRe.MatchString(e.PayloadMeta.Checksum.SHA256) {
		return ErrChecksumInvalid
	}
	if !ValidRef(e.PayloadRef) {
		return ErrPayloadRefInvalid
	}
	if strings.TrimSpace(e.IdempotencyKey) == "" {
		return ErrIdempotencyMissing
	}
	for _, d := range e.PolicyDecisions {
		if !d.Allowed {
			return ErrPolicyRejected
		}
	}
	return nil
}

// MarshalJSONLine encodes the envelope as a single JSON-lines row (no
// trailing newline).
func (e Envelope) MarshalJSONLine() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalJSONLine decodes one ingest-log line into an Envelope.
func UnmarshalJSONLine(line []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(line, &e); err != nil {
		return Envelope{}, err
	}
	return e, nil
}
