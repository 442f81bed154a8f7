package canonical

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlugifyStability(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Blue Moon Tavern", "blue-moon-tavern"},
		{"blue moon tavern", "blue-moon-tavern"},
		{"  Conor   Byrne's Pub  ", "conor-byrne-s-pub"},
		{"KEXP", "kexp"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Slugify(c.in), "input=%q", c.in)
	}
}

func TestNewVenueRenormalizeStability(t *testing.T) {
	v1, err := NewVenue("Blue Moon Tavern")
	require.NoError(t, err)
	v2, err := NewVenue("blue moon tavern")
	require.NoError(t, err)
	assert.Equal(t, v1.Slug, v2.Slug)
	assert.Equal(t, "blue moon tavern", v2.NameLower)

	v1.Name = "BLUE MOON TAVERN"
	v1.Renormalize()
	assert.Equal(t, v2.Slug, v1.Slug)
}

func TestNewArtistSlug(t *testing.T) {
	a, err := NewArtist("King Stingray")
	require.NoError(t, err)
	assert.Equal(t, "king-stingray", a.NameSlug)

	_, err = NewArtist("   ")
	assert.ErrorIs(t, err, ErrArtistNameRequired)
}

func TestEventValidate(t *testing.T) {
	day, err := ParseEventDay("2025-08-28")
	require.NoError(t, err)

	e := Event{Title: "King Stingray LIVE on KEXP", EventDay: day, VenueID: uuid.New()}
	assert.NoError(t, e.Validate())

	missingVenue := e
	missingVenue.VenueID = uuid.Nil
	assert.ErrorIs(t, missingVenue.Validate(), ErrEventVenueRequired)

	nilArtist := e
	nilArtist.ArtistIDs = []uuid.UUID{uuid.Nil}
	assert.ErrorIs(t, nilArtist.Validate(), ErrEventArtistNil)
}

func TestEventDayRoundTrip(t *testing.T) {
	d, err := ParseEventDay("2025-08-28")
	require.NoError(t, err)
	assert.Equal(t, "2025-08-28", d.String())

	b, err := d.MarshalJSON()
	require.NoError(t, err)
	var d2 EventDay
	require.NoError(t, d2.UnmarshalJSON(b))
	assert.Equal(t, d, d2)
}

func TestRawDataMarkProcessed(t *testing.T) {
	rd := RawData{APIName: "kexp", CreatedAt: time.Now().UTC()}
	require.False(t, rd.Processed)
	id := uuid.New()
	rd.MarkProcessed(id)
	assert.True(t, rd.Processed)
	require.NotNil(t, rd.EventID)
	assert.Equal(t, id, *rd.EventID)
}
