package enrich

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sms-collective/sms-pipeline/pkg/normalize"
)

func TestInferCategoriesMatchesKeyword(t *testing.T) {
	assert.Contains(t, InferCategories("Tuesday Night Karaoke"), "karaoke")
	assert.Contains(t, InferCategories("Open Mic Night"), "open mic")
	assert.Contains(t, InferCategories("Trivia Night"), "games")
	assert.Empty(t, InferCategories("King Stingray LIVE on KEXP"))
}

func TestEnrichAttachesVenueContext(t *testing.T) {
	dir := StaticVenueDirectory{
		"sunset-tavern": VenueInfo{City: "Seattle", Neighborhood: "Ballard", Geocoded: true},
	}
	e := &Enricher{Venues: dir}

	rec := normalize.NormalizedRecord{
		Entity: normalize.EntityEvent,
		Event:  &normalize.EventRecord{Title: "Karaoke Night", VenueName: "Sunset Tavern"},
	}
	out, err := e.Enrich(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, "Seattle", out.City)
	assert.Equal(t, "Ballard", out.Neighborhood)
	assert.True(t, out.Geocoded)
	assert.Contains(t, out.Categories, "karaoke")
}

func TestEnrichPassesThroughNonEventEntities(t *testing.T) {
	e := &Enricher{}
	rec := normalize.NormalizedRecord{Entity: normalize.EntityVenue, Venue: &normalize.VenueRecord{Name: "Sunset Tavern"}}
	out, err := e.Enrich(context.Background(), rec)
	require.NoError(t, err)
	assert.Empty(t, out.Categories)
	assert.Equal(t, rec, out.NormalizedRecord)
}

func TestEnrichWithUnknownVenueLeavesLocationEmpty(t *testing.T) {
	e := &Enricher{Venues: StaticVenueDirectory{}}
	rec := normalize.NormalizedRecord{
		Entity: normalize.EntityEvent,
		Event:  &normalize.EventRecord{Title: "Some Show", VenueName: "Unmapped Venue"},
	}
	out, err := e.Enrich(context.Background(), rec)
	require.NoError(t, err)
	assert.Empty(t, out.City)
	assert.False(t, out.Geocoded)
}
