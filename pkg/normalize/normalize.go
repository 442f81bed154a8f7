// Package normalize turns a ParsedRecord into 0..N NormalizedRecords
// (§4.6): a resolved Venue, zero or more performing Artists, and an Event
// tying them together by name (IDs are not yet assigned — that is
// Conflation's job). Normalizers never touch the catalog.
package normalize

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sms-collective/sms-pipeline/pkg/canonical"
	"github.com/sms-collective/sms-pipeline/pkg/parse"
	"github.com/sms-collective/sms-pipeline/pkg/sources"
)

// EntityKind discriminates which union member of NormalizedRecord is set.
type EntityKind string

const (
	EntityVenue  EntityKind = "venue"
	EntityArtist EntityKind = "artist"
	EntityEvent  EntityKind = "event"
)

// VenueRecord is a normalized venue, named by value rather than ID: the
// identity key is Slug, resolved downstream by Conflation (§4.9).
type VenueRecord struct {
	Name      string
	NameLower string
	Slug      string
}

// ArtistRecord is a normalized performer, named by value.
type ArtistRecord struct {
	Name     string
	NameSlug string
}

// EventRecord is a normalized event. VenueName/ArtistNames are the
// unresolved entity references Conflation/Catalog join against.
type EventRecord struct {
	Title       string
	EventDay    canonical.EventDay
	StartTime   *time.Time
	EventURL    string
	Description string
	ImageURL    string
	VenueName   string
	ArtistNames []string
}

// Provenance traces a NormalizedRecord back to the envelope/payload it
// came from (§4.6).
type Provenance struct {
	EnvelopeID   uuid.UUID
	SourceID     string
	PayloadRef   string
	RecordPath   string
	NormalizedAt time.Time
}

// Normalization carries the confidence/strategy metadata required by
// §4.6's NormalizedRecord shape.
type Normalization struct {
	Confidence float64
	Warnings   []string
	Geocoded   bool
	Strategy   string
}

// NormalizedRecord is the union-by-EntityKind output of a Normalizer.
type NormalizedRecord struct {
	Entity        EntityKind
	Venue         *VenueRecord
	Artist        *ArtistRecord
	Event         *EventRecord
	Provenance    Provenance
	Normalization Normalization
}

// Key returns the identity tuple an Event normalizes to, once its venue
// is resolved (§4.6 invariant).
func (e EventRecord) Key(venueID uuid.UUID) (uuid.UUID, canonical.EventDay, string) {
	return venueID, e.EventDay, strings.ToLower(strings.TrimSpace(e.Title))
}

// Normalizer turns one parsed record into its constituent entity records.
type Normalizer interface {
	Normalize(ctx context.Context, rec parse.Record) ([]NormalizedRecord, error)
}

// NormalizerFunc adapts a plain function to the Normalizer interface.
type NormalizerFunc func(ctx context.Context, rec parse.Record) ([]NormalizedRecord, error)

func (f NormalizerFunc) Normalize(ctx context.Context, rec parse.Record) ([]NormalizedRecord, error) {
	return f(ctx, rec)
}

var ErrUnknownSource = errors.New("normalize: unknown source_id")

// Registry dispatches a Normalizer by source_id (§4.6 "Normalizer
// Registry"), mirroring sources.Registry's dispatch convention.
type Registry struct {
	normalizers map[string]Normalizer
}

func NewRegistry() *Registry {
	return &Registry{normalizers: make(map[string]Normalizer)}
}

func (r *Registry) Register(sourceID string, n Normalizer) {
	r.normalizers[sourceID] = n
}

func (r *Registry) For(sourceID string) (Normalizer, error) {
	n, ok := r.normalizers[sourceID]
	if !ok {
		return nil, ErrUnknownSource
	}
	return n, nil
}

// NewDefaultRegistry wraps every adapter in srcs as an AdapterNormalizer,
// picking the artist-splitting convention documented for that source_id
// (§4.6: "X LIVE on KEXP" for kexp, generic separators otherwise).
func NewDefaultRegistry(srcs *sources.Registry) (*Registry, error) {
	reg := NewRegistry()
	for _, id := range srcs.SourceIDs() {
		adapter, err := srcs.Get(id)
		if err != nil {
			return nil, err
		}
		reg.Register(id, &AdapterNormalizer{Adapter: adapter, SplitArtists: splitterFor(id)})
	}
	return reg, nil
}

// Engine resolves a source_id's Normalizer and runs it (§4.6).
type Engine struct {
	Registry *Registry
	Clock    func() time.Time
}

func NewEngine(registry *Registry) *Engine {
	return &Engine{Registry: registry}
}

func (e *Engine) clock() time.Time {
	if e.Clock != nil {
		return e.Clock()
	}
	return time.Now().UTC()
}

func (e *Engine) Run(ctx context.Context, rec parse.Record) ([]NormalizedRecord, error) {
	n, err := e.Registry.For(rec.SourceID)
	if err != nil {
		return nil, err
	}
	out, err := n.Normalize(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("normalize: %s: %w", rec.SourceID, err)
	}
	return out, nil
}

// AdapterNormalizer normalizes a record by running it back through the
// source adapter's ExtractSummary/ExtractArgs (§4.1) — the adapter
// already knows the source's date/time formats and field names, so
// Normalize reuses that parsing rather than duplicating it per source.
type AdapterNormalizer struct {
	Adapter      sources.Adapter
	SplitArtists func(title string) (names []string, strategy string)
	Clock        func() time.Time
}

func (n *AdapterNormalizer) clock() time.Time {
	if n.Clock != nil {
		return n.Clock()
	}
	return time.Now().UTC()
}

func (n *AdapterNormalizer) Normalize(_ context.Context, rec parse.Record) ([]NormalizedRecord, error) {
	doc := sources.Document{Raw: rec.Data}

	summary, err := n.Adapter.ExtractSummary(doc)
	if err != nil {
		return nil, fmt.Errorf("extract summary: %w", err)
	}
	args, err := n.Adapter.ExtractArgs(doc)
	if err != nil {
		return nil, fmt.Errorf("extract args: %w", err)
	}

	venueName := strings.TrimSpace(summary.VenueName)
	title := strings.TrimSpace(args.Title)

	split := n.SplitArtists
	if split == nil {
		split = splitArtistsGeneric
	}
	artistNames, strategy := split(title)

	prov := Provenance{
		EnvelopeID:   rec.EnvelopeID,
		SourceID:     rec.SourceID,
		PayloadRef:   rec.PayloadRef,
		RecordPath:   rec.RecordPath,
		NormalizedAt: n.clock(),
	}

	records := make([]NormalizedRecord, 0, 2+len(artistNames))

	var eventWarnings []string
	eventConfidence := 1.0
	if venueName != "" {
		records = append(records, NormalizedRecord{
			Entity: EntityVenue,
			Venue: &VenueRecord{
				Name:      venueName,
				NameLower: canonical.NameLower(venueName),
				Slug:      canonical.Slugify(venueName),
			},
			Provenance:    prov,
			Normalization: Normalization{Confidence: 1, Strategy: "adapter_summary"},
		})
	} else {
		eventWarnings = append(eventWarnings, "missing venue name")
		eventConfidence = 0.5
	}

	for _, name := range artistNames {
		records = append(records, NormalizedRecord{
			Entity: EntityArtist,
			Artist: &ArtistRecord{
				Name:     name,
				NameSlug: canonical.Slugify(name),
			},
			Provenance:    prov,
			Normalization: Normalization{Confidence: 1, Strategy: strategy},
		})
	}

	if title == "" {
		eventWarnings = append(eventWarnings, "missing title")
		eventConfidence = 0
	}
	if args.EventDay.IsZero() {
		eventWarnings = append(eventWarnings, "missing event_day")
		eventConfidence = 0
	}

	records = append(records, NormalizedRecord{
		Entity: EntityEvent,
		Event: &EventRecord{
			Title:       title,
			EventDay:    args.EventDay,
			StartTime:   args.StartTime,
			EventURL:    args.EventURL,
			Description: args.Description,
			ImageURL:    args.ImageURL,
			VenueName:   venueName,
			ArtistNames: artistNames,
		},
		Provenance:    prov,
		Normalization: Normalization{Confidence: eventConfidence, Warnings: eventWarnings, Strategy: "adapter_args"},
	})

	return records, nil
}
