// Package conflation assigns a canonical entity ID to each enriched
// record while preserving identity continuity across runs and sources
// (§4.9). The normalized-key stripping and similarity-threshold fallback
// are grounded on original_source/sms-scraper/src/pipeline/utils.rs's
// StringUtils::normalize_venue_name/normalize_artist_name and
// EntityResolver::resolve_venue_entity/resolve_artist_entities, rewritten
// against github.com/agnivade/levenshtein instead of a hand-rolled
// distance matrix.
package conflation

import (
	"strings"
	"sync"

	"github.com/agnivade/levenshtein"
	"github.com/google/uuid"

	"github.com/sms-collective/sms-pipeline/pkg/enrich"
	"github.com/sms-collective/sms-pipeline/pkg/normalize"
)

// Decision records how a canonical entity ID was assigned (§4.9).
type Decision string

const (
	NewEntity       Decision = "new_entity"
	MatchedExisting Decision = "matched_existing"
)

const (
	// DefaultArtistThreshold is the similarity confidence threshold for
	// fuzzy artist matching (§4.9 step 3, "default 0.85 artists").
	DefaultArtistThreshold = 0.85
	// DefaultVenueThreshold is the default venue similarity threshold;
	// venues are "configurable" per §4.9 but default to the same bar.
	DefaultVenueThreshold = 0.85
)

// Conflation carries the ID-assignment outcome for one record.
type Conflation struct {
	Decision           Decision
	Confidence         float64
	Strategy           string
	ContributingSources []string
	Signatures         []string
}

// ConflatedRecord is an EnrichedRecord with a canonical entity ID and the
// conflation decision that produced it (§4.9). For Venue/Artist records,
// CanonicalEntityID is that entity's own resolved ID. Events are keyed
// deterministically by Catalog's (venue_id, event_day, lower(title))
// tie-break rather than fuzzy-matched, so CanonicalEntityID is left zero
// for Event records; ResolvedVenueID/ResolvedArtistIDs instead carry the
// venue/artist IDs this Resolver already assigned earlier in the same
// event's record stream, so Catalog never has to repeat string matching.
type ConflatedRecord struct {
	enrich.EnrichedRecord
	CanonicalEntityID uuid.UUID
	ResolvedVenueID   uuid.UUID
	ResolvedArtistIDs []uuid.UUID
	Conflation        Conflation
}

// keyIndex is an in-memory normalized-key -> entity ID map, seeded from
// the catalog at run start (§4.9 step 2).
type keyIndex struct {
	mu        sync.Mutex
	ids       map[string]uuid.UUID
	threshold float64
}

func newKeyIndex(threshold float64) *keyIndex {
	return &keyIndex{ids: make(map[string]uuid.UUID), threshold: threshold}
}

// resolve looks up key exactly, then by similarity against the existing
// keys, then mints a new ID. It reports which branch fired.
func (k *keyIndex) resolve(key string) (uuid.UUID, Decision, float64, string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if id, ok := k.ids[key]; ok {
		return id, MatchedExisting, 1.0, "exact_key"
	}

	var bestKey string
	bestSim := -1.0
	for existing := range k.ids {
		sim := similarity(key, existing)
		if sim > bestSim {
			bestSim = sim
			bestKey = existing
		}
	}
	if bestSim >= k.threshold {
		id := k.ids[bestKey]
		k.ids[key] = id
		return id, MatchedExisting, bestSim, "levenshtein_similarity"
	}

	id := uuid.New()
	k.ids[key] = id
	return id, NewEntity, 1.0, "new_entity"
}

// seed records a known (key, id) pair without running similarity matching
// — used to preload from the catalog at run start (§4.9 step 2).
func (k *keyIndex) seed(key string, id uuid.UUID) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.ids[key] = id
}

func similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 0
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1.0 - float64(dist)/float64(maxLen)
}

// NormalizeVenueKey lowercases name, strips a leading "the " and any of
// the trailing venue-type suffixes (§4.9 step 1).
func NormalizeVenueKey(name string) string {
	k := strings.ToLower(strings.TrimSpace(name))
	k = strings.TrimPrefix(k, "the ")
	for _, suffix := range []string{" tavern", " bar", " club", " lounge"} {
		k = strings.TrimSuffix(k, suffix)
	}
	return strings.TrimSpace(k)
}

// NormalizeArtistKey lowercases name, strips a leading "the " and any of
// the trailing ensemble-type suffixes (§4.9 step 1).
func NormalizeArtistKey(name string) string {
	k := strings.ToLower(strings.TrimSpace(name))
	k = strings.TrimPrefix(k, "the ")
	for _, suffix := range []string{" band", " trio", " quartet"} {
		k = strings.TrimSuffix(k, suffix)
	}
	return strings.TrimSpace(k)
}

// Resolver conflates Venue/Artist/Event records against in-memory key
// indexes, seeded from the catalog at construction time.
type Resolver struct {
	venues         *keyIndex
	artists        *keyIndex
	venueIDByName  map[string]uuid.UUID
	artistIDByName map[string]uuid.UUID
	mu             sync.Mutex
}

// NewResolver builds a Resolver with the given similarity thresholds. A
// threshold of 0 uses the package default.
func NewResolver(artistThreshold, venueThreshold float64) *Resolver {
	if artistThreshold <= 0 {
		artistThreshold = DefaultArtistThreshold
	}
	if venueThreshold <= 0 {
		venueThreshold = DefaultVenueThreshold
	}
	return &Resolver{
		venues:         newKeyIndex(venueThreshold),
		artists:        newKeyIndex(artistThreshold),
		venueIDByName:  make(map[string]uuid.UUID),
		artistIDByName: make(map[string]uuid.UUID),
	}
}

// SeedVenue preloads a known venue (name, id) pair from the catalog.
func (r *Resolver) SeedVenue(name string, id uuid.UUID) {
	r.venues.seed(NormalizeVenueKey(name), id)
	r.mu.Lock()
	r.venueIDByName[strings.ToLower(strings.TrimSpace(name))] = id
	r.mu.Unlock()
}

// SeedArtist preloads a known artist (name, id) pair from the catalog.
func (r *Resolver) SeedArtist(name string, id uuid.UUID) {
	r.artists.seed(NormalizeArtistKey(name), id)
}

// Resolve assigns a canonical entity ID to rec, preserving any ID the
// record already carries (Venue.ID/Artist.ID are always uuid.Nil coming
// out of Normalize/Enrich in this pipeline, so that branch exists for
// callers that pre-resolve entities before Conflation — §4.9 step 5).
func (r *Resolver) Resolve(rec enrich.EnrichedRecord, existingID uuid.UUID) ConflatedRecord {
	if existingID != uuid.Nil {
		return ConflatedRecord{
			EnrichedRecord:    rec,
			CanonicalEntityID: existingID,
			Conflation: Conflation{
				Decision:            MatchedExisting,
				Confidence:          1.0,
				Strategy:            "preserved_id",
				ContributingSources: []string{rec.Provenance.SourceID},
			},
		}
	}

	switch rec.Entity {
	case normalize.EntityVenue:
		return r.resolveVenue(rec)
	case normalize.EntityArtist:
		return r.resolveArtist(rec)
	default:
		return r.resolveEvent(rec)
	}
}

func (r *Resolver) resolveVenue(rec enrich.EnrichedRecord) ConflatedRecord {
	key := NormalizeVenueKey(rec.Venue.Name)
	id, decision, confidence, strategy := r.venues.resolve(key)
	r.mu.Lock()
	r.venueIDByName[strings.ToLower(strings.TrimSpace(rec.Venue.Name))] = id
	r.mu.Unlock()
	return ConflatedRecord{
		EnrichedRecord:    rec,
		CanonicalEntityID: id,
		Conflation: Conflation{
			Decision:            decision,
			Confidence:          confidence,
			Strategy:            strategy,
			ContributingSources: []string{rec.Provenance.SourceID},
			Signatures:          []string{key},
		},
	}
}

func (r *Resolver) resolveArtist(rec enrich.EnrichedRecord) ConflatedRecord {
	key := NormalizeArtistKey(rec.Artist.Name)
	id, decision, confidence, strategy := r.artists.resolve(key)
	r.mu.Lock()
	r.artistIDByName[strings.ToLower(strings.TrimSpace(rec.Artist.Name))] = id
	r.mu.Unlock()
	return ConflatedRecord{
		EnrichedRecord:    rec,
		CanonicalEntityID: id,
		Conflation: Conflation{
			Decision:            decision,
			Confidence:          confidence,
			Strategy:            strategy,
			ContributingSources: []string{rec.Provenance.SourceID},
			Signatures:          []string{key},
		},
	}
}

// resolveEvent does not assign the event itself a canonical ID — Events
// are keyed deterministically by (venue_id, event_day, lower(title)) at
// Catalog's tie-break, not by fuzzy matching. It instead carries forward
// the venue/artist IDs this Resolver already assigned earlier in the same
// event's record stream (Normalize emits Venue, then Artists, then Event,
// per its AdapterNormalizer ordering), so Catalog never repeats string
// matching to find them.
func (r *Resolver) resolveEvent(rec enrich.EnrichedRecord) ConflatedRecord {
	r.mu.Lock()
	venueID := r.venueIDByName[strings.ToLower(strings.TrimSpace(rec.Event.VenueName))]
	artistIDs := make([]uuid.UUID, 0, len(rec.Event.ArtistNames))
	for _, name := range rec.Event.ArtistNames {
		if id, ok := r.artistIDByName[strings.ToLower(strings.TrimSpace(name))]; ok {
			artistIDs = append(artistIDs, id)
		}
	}
	r.mu.Unlock()

	return ConflatedRecord{
		EnrichedRecord:    rec,
		ResolvedVenueID:   venueID,
		ResolvedArtistIDs: artistIDs,
		Conflation: Conflation{
			Decision:            MatchedExisting,
			Confidence:          1.0,
			Strategy:            "venue_artist_lookup",
			ContributingSources: []string{rec.Provenance.SourceID},
			Signatures:          []string{strings.ToLower(strings.TrimSpace(rec.Event.Title))},
		},
	}
}
