// Package sourcespec loads the Source Registry: one JSON file per source
// under a directory, validated against the required-field shape of §4.11.
// Unknown fields are permitted and ignored, matching §6's "unknown fields
// permitted and ignored" note — json.Unmarshal already does this for a
// struct target, so no extra pass is needed.
package sourcespec

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var (
	ErrMissingSourceID = errors.New("sourcespec: source_id is required")
	ErrNoEndpoints     = errors.New("sourcespec: at least one endpoint is required")
	ErrBadEndpoint     = errors.New("sourcespec: endpoint url/method required")
	ErrMissingLicense  = errors.New("sourcespec: policy.license_id is required")
)

// Endpoint is one fetch target for a source.
type Endpoint struct {
	URL    string `json:"url"`
	Method string `json:"method"`
}

// Content bounds what a source's responses may look like.
type Content struct {
	AllowedMimeTypes  []string `json:"allowed_mime_types"`
	MaxPayloadBytes   int64    `json:"max_payload_size_bytes"`
}

// Policy carries licensing/compliance metadata for a source.
type Policy struct {
	LicenseID string `json:"license_id"`
}

// RateLimits overrides the pipeline's default rate limiter for this
// source (§4.11).
type RateLimits struct {
	RequestsPerMin int `json:"requests_per_min,omitempty"`
	BytesPerMin    int `json:"bytes_per_min,omitempty"`
	Concurrency    int `json:"concurrency,omitempty"`
}

// Pipeline names which parser/normalizer this source's payloads run
// through, when it deviates from the source_id-keyed default dispatch.
type Pipeline struct {
	ParserID     string `json:"parser_id,omitempty"`
	NormalizerID string `json:"normalizer_id,omitempty"`
	ContentType  string `json:"content_type,omitempty"`
	ParserType   string `json:"parser_type,omitempty"`
}

// Spec is one source's on-disk registry entry (§4.11, §6 "Source
// registry format").
type Spec struct {
	SourceID     string      `json:"source_id"`
	Enabled      bool        `json:"enabled"`
	Endpoints    []Endpoint  `json:"endpoints"`
	Content      Content     `json:"content"`
	Policy       Policy      `json:"policy"`
	ParsePlanRef string      `json:"parse_plan_ref,omitempty"`
	RateLimits   RateLimits  `json:"rate_limits,omitempty"`
	Pipeline     *Pipeline   `json:"pipeline,omitempty"`
}

// Validate enforces §4.11's required fields.
func (s Spec) Validate() error {
	if strings.TrimSpace(s.SourceID) == "" {
		return ErrMissingSourceID
	}
	if len(s.Endpoints) == 0 {
		return ErrNoEndpoints
	}
	for _, ep := range s.Endpoints {
		if strings.TrimSpace(ep.URL) == "" || strings.TrimSpace(ep.Method) == "" {
			return fmt.Errorf("%w: source %s", ErrBadEndpoint, s.SourceID)
		}
	}
	if strings.TrimSpace(s.Policy.LicenseID) == "" {
		return fmt.Errorf("%w: source %s", ErrMissingLicense, s.SourceID)
	}
	return nil
}

// Registry is the in-memory set of loaded, validated Specs.
type Registry struct {
	specs map[string]Spec
}

// Get looks up a source's Spec by id.
func (r *Registry) Get(sourceID string) (Spec, bool) {
	s, ok := r.specs[sourceID]
	return s, ok
}

// Enabled returns the enabled source IDs, sorted for deterministic CLI
// output.
func (r *Registry) Enabled() []string {
	var out []string
	for id, s := range r.specs {
		if s.Enabled {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// All returns every loaded Spec, sorted by source_id.
func (r *Registry) All() []Spec {
	out := make([]Spec, 0, len(r.specs))
	for _, s := range r.specs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	return out
}

// Load reads every *.json file directly under dir as one Spec each,
// validating each against §4.11's required fields (§6 "Loaded from disk
// at startup; validates against a known schema").
func Load(dir string) (*Registry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("sourcespec: read dir %s: %w", dir, err)
	}

	reg := &Registry{specs: make(map[string]Spec)}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		body, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("sourcespec: read %s: %w", path, err)
		}

		var spec Spec
		if err := json.Unmarshal(body, &spec); err != nil {
			return nil, fmt.Errorf("sourcespec: parse %s: %w", path, err)
		}
		if err := spec.Validate(); err != nil {
			return nil, fmt.Errorf("sourcespec: %s: %w", path, err)
		}
		reg.specs[spec.SourceID] = spec
	}
	return reg, nil
}
