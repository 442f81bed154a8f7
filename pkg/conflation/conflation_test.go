package conflation

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sms-collective/sms-pipeline/pkg/enrich"
	"github.com/sms-collective/sms-pipeline/pkg/normalize"
)

func venueRecord(name, sourceID string) enrich.EnrichedRecord {
	return enrich.EnrichedRecord{
		NormalizedRecord: normalize.NormalizedRecord{
			Entity:     normalize.EntityVenue,
			Venue:      &normalize.VenueRecord{Name: name},
			Provenance: normalize.Provenance{SourceID: sourceID},
		},
	}
}

func artistRecord(name, sourceID string) enrich.EnrichedRecord {
	return enrich.EnrichedRecord{
		NormalizedRecord: normalize.NormalizedRecord{
			Entity:     normalize.EntityArtist,
			Artist:     &normalize.ArtistRecord{Name: name},
			Provenance: normalize.Provenance{SourceID: sourceID},
		},
	}
}

func TestNormalizeVenueKeyStripsArticleAndSuffix(t *testing.T) {
	assert.Equal(t, "sunset", NormalizeVenueKey("The Sunset Tavern"))
	assert.Equal(t, "conor byrne pub", NormalizeVenueKey("Conor Byrne Pub"))
}

func TestNormalizeArtistKeyStripsArticleAndSuffix(t *testing.T) {
	assert.Equal(t, "whiskey wolves", NormalizeArtistKey("The Whiskey Wolves Band"))
}

func TestResolveVenueExactKeyReused(t *testing.T) {
	r := NewResolver(0, 0)
	first := r.Resolve(venueRecord("The Sunset Tavern", "sunset_tavern"), uuid.Nil)
	require.Equal(t, NewEntity, first.Conflation.Decision)

	second := r.Resolve(venueRecord("the sunset tavern", "dice_partner"), uuid.Nil)
	assert.Equal(t, MatchedExisting, second.Conflation.Decision)
	assert.Equal(t, first.CanonicalEntityID, second.CanonicalEntityID)
}

func TestResolveVenueFuzzyMatchAboveThreshold(t *testing.T) {
	r := NewResolver(0, 0.6)
	first := r.Resolve(venueRecord("The Sunset Tavern", "a"), uuid.Nil)

	// Slightly misspelled across a different source.
	second := r.Resolve(venueRecord("The Sunsett Tavern", "b"), uuid.Nil)
	assert.Equal(t, MatchedExisting, second.Conflation.Decision)
	assert.Equal(t, first.CanonicalEntityID, second.CanonicalEntityID)
	assert.Equal(t, "levenshtein_similarity", second.Conflation.Strategy)
}

func TestResolveVenueNoMatchBelowThresholdMintsNewID(t *testing.T) {
	r := NewResolver(0, 0.99)
	first := r.Resolve(venueRecord("Sunset Tavern", "a"), uuid.Nil)
	second := r.Resolve(venueRecord("Darrell's Tavern", "b"), uuid.Nil)
	assert.NotEqual(t, first.CanonicalEntityID, second.CanonicalEntityID)
	assert.Equal(t, NewEntity, second.Conflation.Decision)
}

func TestPreservedIDNeverReassigned(t *testing.T) {
	r := NewResolver(0, 0)
	existing := uuid.New()
	rec := r.Resolve(artistRecord("King Stingray", "kexp"), existing)
	assert.Equal(t, MatchedExisting, rec.Conflation.Decision)
	assert.Equal(t, "preserved_id", rec.Conflation.Strategy)
	assert.Equal(t, existing, rec.CanonicalEntityID)
}

func TestEventCarriesForwardResolvedVenueAndArtistIDs(t *testing.T) {
	r := NewResolver(0, 0)
	venue := r.Resolve(venueRecord("Sunset Tavern", "sunset_tavern"), uuid.Nil)
	artist := r.Resolve(artistRecord("King Stingray", "sunset_tavern"), uuid.Nil)

	eventRec := enrich.EnrichedRecord{
		NormalizedRecord: normalize.NormalizedRecord{
			Entity: normalize.EntityEvent,
			Event: &normalize.EventRecord{
				Title:       "King Stingray",
				VenueName:   "Sunset Tavern",
				ArtistNames: []string{"King Stingray"},
			},
			Provenance: normalize.Provenance{SourceID: "sunset_tavern"},
		},
	}
	event := r.Resolve(eventRec, uuid.Nil)
	assert.Equal(t, venue.CanonicalEntityID, event.ResolvedVenueID)
	require.Len(t, event.ResolvedArtistIDs, 1)
	assert.Equal(t, artist.CanonicalEntityID, event.ResolvedArtistIDs[0])
	assert.Equal(t, uuid.Nil, event.CanonicalEntityID)
}
