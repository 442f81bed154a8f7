package errors

import (
	"bytes"
	"encoding/json"
	"sort"
)

// Code is a stable error kind shared across pipeline stages (§7). Once
// published, codes should be treated as stable identifiers for metrics
// and log correlation.
type Code string

// CodeMeta provides metadata useful for retry decisions and documentation.
type CodeMeta struct {
	Retryable   bool   `json:"retryable"`
	Kind        string `json:"kind"` // transport|policy|data|storage|config|internal
	Description string `json:"description"`
}

const (
	Transport          Code = "transport"
	PolicyRejection    Code = "policy_rejection"
	CorruptedPayload   Code = "corrupted_payload"
	ParseError         Code = "parse_error"
	NormalizationError Code = "normalization_error"
	QualityQuarantine  Code = "quality_quarantine"
	CatalogConflict    Code = "catalog_conflict"
	ConfigError        Code = "config_error"
	Internal           Code = "internal"
)

// registry is intentionally unexported; use Meta/Known/List/ExportJSON.
var registry = map[Code]CodeMeta{
	Transport:          {Retryable: true, Kind: "transport", Description: "network/timeout fetching a source"},
	PolicyRejection:    {Retryable: false, Kind: "policy", Description: "envelope fails schema or policy (size, MIME, license)"},
	CorruptedPayload:   {Retryable: false, Kind: "data", Description: "CAS hash mismatch"},
	ParseError:         {Retryable: false, Kind: "data", Description: "parser exception on valid bytes"},
	NormalizationError: {Retryable: false, Kind: "data", Description: "unparseable date/required field"},
	QualityQuarantine:  {Retryable: false, Kind: "data", Description: "quality-gate routing outcome, not an error"},
	CatalogConflict:    {Retryable: false, Kind: "storage", Description: "upsert constraint violation not resolvable by ON CONFLICT"},
	ConfigError:        {Retryable: false, Kind: "config", Description: "missing source spec or missing env var"},
	Internal:           {Retryable: true, Kind: "internal", Description: "internal error"},
}

// Meta returns metadata for a code.
func Meta(code Code) (CodeMeta, bool) {
	m, ok := registry[code]
	return m, ok
}
func Known(code Code) bool {
	_, ok := registry[code]
	return ok
}

// List returns all known codes sorted.
func List() []Code {
	out := make([]Code, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ExportJSON returns stable JSON of all codes + meta.
func ExportJSON() []byte {
	type row struct {
		Code Code     `json:"code"`
		Meta CodeMeta `json:"meta"`
	}
	codes := List()
	rows := make([]row, 0, len(codes))
	for _, c := range codes {
		rows = append(rows, row{Code: c, Meta: registry[c]})
	}
	b, err := json.Marshal(rows)
	if err != nil {
		return []byte("[]")
	}
	var buf bytes.Buffer
	_, _ = buf.Write(b)
	return buf.Bytes()
}
