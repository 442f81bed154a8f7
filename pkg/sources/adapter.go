// Package sources implements the Gateway's source-adapter capability set
// (§4.1), grounded on
// services/connector-hub/internal/connectors/base_connector.go and
// http_rest.go (SSRF-guarded HTTP fetch, per-connector config validation).
package sources

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/sms-collective/sms-pipeline/pkg/canonical"
)

var (
	ErrUnknownSource = errors.New("sources: unknown source_id")
	ErrDisabled      = errors.New("sources: source is disabled")
)

// Document is one raw fetch unit returned by an adapter — may be a whole
// API response or a single HTML page, represented as a JSON value so
// Parse can address it uniformly (§4.1, §4.5).
type Document struct {
	Raw         json.RawMessage
	ContentType string
}

// Summary is the minimal index Gateway/RawData needs without fully
// normalizing a document (§4.1 extract_summary).
type Summary struct {
	EventAPIID string
	EventName  string
	VenueName  string
	EventDay   canonical.EventDay
}

// EventArgs are downstream hints extracted directly from a document,
// ahead of full Normalize (§4.1 extract_args).
type EventArgs struct {
	Title       string
	EventDay    canonical.EventDay
	StartTime   *time.Time
	EventURL    string
	Description string
	ImageURL    string
}

// Adapter is the capability set every source implements. Adapters MUST
// NOT set payload_ref and MUST NOT persist to the catalog (§4.1).
type Adapter interface {
	APIName() string
	Fetch(ctx context.Context) ([]Document, error)
	ExtractSummary(doc Document) (Summary, error)
	ExtractArgs(doc Document) (EventArgs, error)
}

// Registry dispatches adapters by source_id, mirroring the dispatch-by-id
// convention used for Parse/Normalize registries (§9 "Polymorphism").
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

func (r *Registry) Register(a Adapter) {
	r.adapters[a.APIName()] = a
}

func (r *Registry) Get(sourceID string) (Adapter, error) {
	a, ok := r.adapters[sourceID]
	if !ok {
		return nil, ErrUnknownSource
	}
	return a, nil
}

func (r *Registry) SourceIDs() []string {
	out := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		out = append(out, id)
	}
	return out
}
