package catalog

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sms-collective/sms-pipeline/pkg/canonical"
	"github.com/sms-collective/sms-pipeline/pkg/conflation"
	"github.com/sms-collective/sms-pipeline/pkg/enrich"
	"github.com/sms-collective/sms-pipeline/pkg/normalize"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s, err := Open(db)
	require.NoError(t, err)
	return s
}

func venueConflated(id uuid.UUID, name, sourceID string) conflation.ConflatedRecord {
	return conflation.ConflatedRecord{
		EnrichedRecord: enrich.EnrichedRecord{
			NormalizedRecord: normalize.NormalizedRecord{
				Entity:     normalize.EntityVenue,
				Venue:      &normalize.VenueRecord{Name: name, NameLower: name, Slug: name},
				Provenance: normalize.Provenance{SourceID: sourceID},
			},
		},
		CanonicalEntityID: id,
	}
}

func TestStartRunAndFinishRun(t *testing.T) {
	s := openStore(t)
	run, err := s.StartRun(context.Background(), "nightly")
	require.NoError(t, err)
	assert.True(t, run.Open())

	require.NoError(t, s.FinishRun(context.Background(), run.ID))
}

func TestWriteVenueIsIdempotentOnSecondCall(t *testing.T) {
	s := openStore(t)
	run, err := s.StartRun(context.Background(), "r1")
	require.NoError(t, err)

	rec := venueConflated(uuid.New(), "Sunset Tavern", "sunset_tavern")

	first, err := s.WriteRecord(context.Background(), run.ID, rec)
	require.NoError(t, err)
	assert.Equal(t, canonical.ChangeCreated, first.ChangeType)

	second, err := s.WriteRecord(context.Background(), run.ID, rec)
	require.NoError(t, err)
	assert.Equal(t, canonical.ChangeNoChange, second.ChangeType)
}

func TestWriteEventCreatesHostsAndPerformsAtEdges(t *testing.T) {
	s := openStore(t)
	run, err := s.StartRun(context.Background(), "r1")
	require.NoError(t, err)

	venueID := uuid.New()
	venueRec := venueConflated(venueID, "Sunset Tavern", "sunset_tavern")
	_, err = s.WriteRecord(context.Background(), run.ID, venueRec)
	require.NoError(t, err)

	artistID := uuid.New()
	artistRec := conflation.ConflatedRecord{
		EnrichedRecord: enrich.EnrichedRecord{
			NormalizedRecord: normalize.NormalizedRecord{
				Entity:     normalize.EntityArtist,
				Artist:     &normalize.ArtistRecord{Name: "King Stingray", NameSlug: "king-stingray"},
				Provenance: normalize.Provenance{SourceID: "sunset_tavern"},
			},
		},
		CanonicalEntityID: artistID,
	}
	_, err = s.WriteRecord(context.Background(), run.ID, artistRec)
	require.NoError(t, err)

	eventRec := conflation.ConflatedRecord{
		EnrichedRecord: enrich.EnrichedRecord{
			NormalizedRecord: normalize.NormalizedRecord{
				Entity: normalize.EntityEvent,
				Event: &normalize.EventRecord{
					Title:       "King Stingray",
					EventDay:    canonical.NewEventDay(time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)),
					VenueName:   "Sunset Tavern",
					ArtistNames: []string{"King Stingray"},
				},
				Provenance: normalize.Provenance{SourceID: "sunset_tavern"},
			},
		},
		ResolvedVenueID:   venueID,
		ResolvedArtistIDs: []uuid.UUID{artistID},
	}
	pr, err := s.WriteRecord(context.Background(), run.ID, eventRec)
	require.NoError(t, err)
	require.NotNil(t, pr.EventID)

	issues, err := s.CheckArtistLinks(context.Background())
	require.NoError(t, err)
	assert.Empty(t, issues, "artist should be linked via performs_at edge")

	var edgeCount int
	row := s.db.QueryRow(`SELECT COUNT(*) FROM edges WHERE relation = ?`, string(RelationHosts))
	require.NoError(t, row.Scan(&edgeCount))
	assert.Equal(t, 1, edgeCount)
}

func TestWriteEventWithNoArtistsCreatesZeroPerformsAtEdges(t *testing.T) {
	s := openStore(t)
	run, err := s.StartRun(context.Background(), "r1")
	require.NoError(t, err)

	venueID := uuid.New()
	_, err = s.WriteRecord(context.Background(), run.ID, venueConflated(venueID, "Sunset Tavern", "sunset_tavern"))
	require.NoError(t, err)

	eventRec := conflation.ConflatedRecord{
		EnrichedRecord: enrich.EnrichedRecord{
			NormalizedRecord: normalize.NormalizedRecord{
				Entity: normalize.EntityEvent,
				Event: &normalize.EventRecord{
					Title:     "Open Mic Night",
					EventDay:  canonical.NewEventDay(time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)),
					VenueName: "Sunset Tavern",
				},
				Provenance: normalize.Provenance{SourceID: "sunset_tavern"},
			},
		},
		ResolvedVenueID: venueID,
	}
	pr, err := s.WriteRecord(context.Background(), run.ID, eventRec)
	require.NoError(t, err)
	require.NotNil(t, pr.EventID)

	var edgeCount int
	row := s.db.QueryRow(`SELECT COUNT(*) FROM edges WHERE relation = ?`, string(RelationPerformsAt))
	require.NoError(t, row.Scan(&edgeCount))
	assert.Zero(t, edgeCount)
}

func TestTwoArtistsWithEqualSlugsResolveToOneRowTwoReferences(t *testing.T) {
	s := openStore(t)
	run, err := s.StartRun(context.Background(), "r1")
	require.NoError(t, err)

	sharedID := uuid.New()
	first := conflation.ConflatedRecord{
		EnrichedRecord: enrich.EnrichedRecord{
			NormalizedRecord: normalize.NormalizedRecord{
				Entity:     normalize.EntityArtist,
				Artist:     &normalize.ArtistRecord{Name: "King Stingray", NameSlug: "king-stingray"},
				Provenance: normalize.Provenance{SourceID: "sunset_tavern"},
			},
		},
		CanonicalEntityID: sharedID,
	}
	second := conflation.ConflatedRecord{
		EnrichedRecord: enrich.EnrichedRecord{
			NormalizedRecord: normalize.NormalizedRecord{
				Entity:     normalize.EntityArtist,
				Artist:     &normalize.ArtistRecord{Name: "king stingray", NameSlug: "king-stingray"},
				Provenance: normalize.Provenance{SourceID: "darrells_tavern"},
			},
		},
		CanonicalEntityID: sharedID,
	}
	_, err = s.WriteRecord(context.Background(), run.ID, first)
	require.NoError(t, err)
	_, err = s.WriteRecord(context.Background(), run.ID, second)
	require.NoError(t, err)

	var nodeCount int
	row := s.db.QueryRow(`SELECT COUNT(*) FROM nodes WHERE kind = 'artist'`)
	require.NoError(t, row.Scan(&nodeCount))
	assert.Equal(t, 1, nodeCount, "two references to the same artist slug must collapse to one node")

	var recordCount int
	row = s.db.QueryRow(`SELECT COUNT(*) FROM process_records WHERE artist_id = ?`, sharedID.String())
	require.NoError(t, row.Scan(&recordCount))
	assert.Equal(t, 2, recordCount, "each reference is still recorded as its own process record")
}

func TestWriteEventWithoutResolvedVenueFails(t *testing.T) {
	s := openStore(t)
	run, err := s.StartRun(context.Background(), "r1")
	require.NoError(t, err)

	eventRec := conflation.ConflatedRecord{
		EnrichedRecord: enrich.EnrichedRecord{
			NormalizedRecord: normalize.NormalizedRecord{
				Entity:     normalize.EntityEvent,
				Event:      &normalize.EventRecord{Title: "Some Show"},
				Provenance: normalize.Provenance{SourceID: "fake"},
			},
		},
	}
	_, err = s.WriteRecord(context.Background(), run.ID, eventRec)
	assert.ErrorIs(t, err, ErrMissingVenue)
}

func TestResetClearsAllTables(t *testing.T) {
	s := openStore(t)
	run, err := s.StartRun(context.Background(), "r1")
	require.NoError(t, err)
	_, err = s.WriteRecord(context.Background(), run.ID, venueConflated(uuid.New(), "Sunset Tavern", "sunset_tavern"))
	require.NoError(t, err)

	require.NoError(t, s.Reset(context.Background()))

	var count int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM nodes`).Scan(&count))
	assert.Zero(t, count)
}
