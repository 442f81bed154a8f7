// Package enrich attaches derived, purely additive context to a
// NormalizedRecord — city, neighborhood, and title-inferred categories
// (§4.8). The Enricher interface and its composable, side-effect-free
// shape are grounded on the teacher's engine.Enricher
// (services/normalizer/internal/engine/enricher.go), adapted from
// generic key/value enrichments to this pipeline's city/neighborhood/
// category fields.
package enrich

import (
	"context"
	"strings"

	"github.com/sms-collective/sms-pipeline/pkg/canonical"
	"github.com/sms-collective/sms-pipeline/pkg/normalize"
)

// EnrichedRecord carries a NormalizedRecord plus additive context.
// Enrichment never changes Entity/Venue/Artist/Event/Provenance.
type EnrichedRecord struct {
	normalize.NormalizedRecord
	City         string
	Neighborhood string
	Categories   []string
	Geocoded     bool
}

// VenueInfo is what a VenueDirectory knows about a venue beyond its name.
type VenueInfo struct {
	City         string
	Neighborhood string
	Geocoded     bool
}

// VenueDirectory resolves a venue slug to location context. Implementations
// may be a static table or a geocoder-backed cache; Enrich treats either
// the same way (§4.8 "neighborhood from venue or geocode, if available").
type VenueDirectory interface {
	Lookup(venueSlug string) (VenueInfo, bool)
}

// StaticVenueDirectory is a VenueDirectory backed by a fixed table, in the
// spirit of the teacher's StaticEnricher.
type StaticVenueDirectory map[string]VenueInfo

func (d StaticVenueDirectory) Lookup(slug string) (VenueInfo, bool) {
	v, ok := d[slug]
	return v, ok
}

// categoryKeywords maps a category label to the title substrings that
// imply it (§4.8). Matching is case-insensitive and additive: a title can
// carry more than one category.
var categoryKeywords = map[string][]string{
	"karaoke":      {"karaoke"},
	"open mic":     {"open mic", "open-mic"},
	"arts & crafts": {"arts & crafts", "arts and crafts", "craft night"},
	"games":        {"trivia", "bingo", "game night"},
	"dj":           {"dj set", " dj ", "dj night"},
	"festival":     {"festival", "fest "},
}

// InferCategories scans title for the category keywords of §4.8.
func InferCategories(title string) []string {
	lower := " " + strings.ToLower(title) + " "
	var cats []string
	for cat, keywords := range categoryKeywords {
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				cats = append(cats, cat)
				break
			}
		}
	}
	return cats
}

// Enricher attaches city/neighborhood/category context to Event records.
// Venue and Artist records pass through unchanged — they carry no title
// to categorize and are not themselves the subject of §4.8's lookups.
type Enricher struct {
	Venues VenueDirectory
}

func (e *Enricher) Enrich(_ context.Context, rec normalize.NormalizedRecord) (EnrichedRecord, error) {
	out := EnrichedRecord{NormalizedRecord: rec}
	if rec.Entity != normalize.EntityEvent || rec.Event == nil {
		return out, nil
	}

	out.Categories = InferCategories(rec.Event.Title)

	if e.Venues != nil && rec.Event.VenueName != "" {
		slug := canonical.Slugify(rec.Event.VenueName)
		if info, ok := e.Venues.Lookup(slug); ok {
			out.City = info.City
			out.Neighborhood = info.Neighborhood
			out.Geocoded = info.Geocoded
		}
	}

	return out, nil
}
