// Package parse resolves an envelope's CAS payload into a finite sequence
// of ParsedRecords (§4.5). Parsers are pure functions of bytes: no network,
// no catalog access. record_path addressing borrows the JSONPath-like
// segment convention from
// services/normalizer/internal/engine/mapper.go, reduced to the two shapes
// this pipeline's payloads actually take: a single object ("$") or a JSON
// array of objects ("$[N]").
package parse

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/sms-collective/sms-pipeline/pkg/cas"
)

// Record is one parsed unit out of an envelope's payload.
type Record struct {
	SourceID   string          `json:"source_id"`
	EnvelopeID uuid.UUID       `json:"envelope_id"`
	PayloadRef string          `json:"payload_ref"`
	RecordPath string          `json:"record_path"`
	Data       json.RawMessage `json:"record"`
}

// Parser turns raw payload bytes into records. Implementations must be
// deterministic and must not touch the network or the catalog (§4.5).
type Parser interface {
	Parse(ctx context.Context, payload []byte) ([][]byte, []string, error)
}

// ParserFunc adapts a plain function to the Parser interface.
type ParserFunc func(ctx context.Context, payload []byte) ([][]byte, []string, error)

func (f ParserFunc) Parse(ctx context.Context, payload []byte) ([][]byte, []string, error) {
	return f(ctx, payload)
}

// Registry dispatches a Parser by source_id, falling back to DefaultParser
// for sources with no source-specific quirks (§9 "dispatch by source_id
// through three registries").
type Registry struct {
	parsers map[string]Parser
	fallback Parser
}

func NewRegistry() *Registry {
	return &Registry{parsers: make(map[string]Parser), fallback: DefaultParser{}}
}

func (r *Registry) Register(sourceID string, p Parser) {
	r.parsers[sourceID] = p
}

func (r *Registry) For(sourceID string) Parser {
	if p, ok := r.parsers[sourceID]; ok {
		return p
	}
	return r.fallback
}

// Engine resolves payloads via CAS and runs them through the Registry.
type Engine struct {
	CAS      cas.Store
	Registry *Registry
}

func NewEngine(store cas.Store, registry *Registry) *Engine {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Engine{CAS: store, Registry: registry}
}

// Run resolves (source_id, envelope_id, payload_ref) to its records (§4.5).
func (e *Engine) Run(ctx context.Context, sourceID string, envelopeID uuid.UUID, payloadRef string) ([]Record, error) {
	payload, err := e.CAS.Get(ctx, payloadRef)
	if err != nil {
		return nil, fmt.Errorf("parse: resolve payload: %w", err)
	}

	parser := e.Registry.For(sourceID)
	bodies, paths, err := parser.Parse(ctx, payload)
	if err != nil {
		return fallbackRecords(sourceID, envelopeID, payloadRef, payload), nil
	}
	if len(bodies) == 0 {
		return fallbackRecords(sourceID, envelopeID, payloadRef, payload), nil
	}

	records := make([]Record, 0, len(bodies))
	for i, body := range bodies {
		path := "$"
		if i < len(paths) {
			path = paths[i]
		}
		records = append(records, Record{
			SourceID:   sourceID,
			EnvelopeID: envelopeID,
			PayloadRef: payloadRef,
			RecordPath: path,
			Data:       json.RawMessage(body),
		})
	}
	return records, nil
}

// fallbackRecord describes the payload shape without interpreting it, so an
// unparseable envelope is never silently dropped (§4.5, §7 ParseError).
type fallbackRecord struct {
	Unparsed    bool   `json:"unparsed"`
	ByteLength  int    `json:"byte_length"`
	ContentHint string `json:"content_hint"`
}

func fallbackRecords(sourceID string, envelopeID uuid.UUID, payloadRef string, payload []byte) []Record {
	hint := "unknown"
	if json.Valid(payload) {
		hint = "json"
	} else if len(payload) > 0 && payload[0] == '<' {
		hint = "html"
	}
	body, _ := json.Marshal(fallbackRecord{Unparsed: true, ByteLength: len(payload), ContentHint: hint})
	return []Record{{
		SourceID:   sourceID,
		EnvelopeID: envelopeID,
		PayloadRef: payloadRef,
		RecordPath: "$",
		Data:       json.RawMessage(body),
	}}
}

// DefaultParser treats a JSON object as a single record and a JSON array as
// one record per element, matching the "already pre-parsed" edge case every
// adapter in this repo actually produces (§4.5).
type DefaultParser struct{}

func (DefaultParser) Parse(_ context.Context, payload []byte) ([][]byte, []string, error) {
	var probe any
	if err := json.Unmarshal(payload, &probe); err != nil {
		return nil, nil, fmt.Errorf("parse: invalid json: %w", err)
	}

	switch v := probe.(type) {
	case []any:
		bodies := make([][]byte, 0, len(v))
		paths := make([]string, 0, len(v))
		for i, elem := range v {
			b, err := json.Marshal(elem)
			if err != nil {
				return nil, nil, err
			}
			bodies = append(bodies, b)
			paths = append(paths, fmt.Sprintf("$[%d]", i))
		}
		return bodies, paths, nil
	default:
		return [][]byte{payload}, []string{"$"}, nil
	}
}
