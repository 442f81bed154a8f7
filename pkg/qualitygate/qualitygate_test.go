package qualitygate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sms-collective/sms-pipeline/pkg/canonical"
	"github.com/sms-collective/sms-pipeline/pkg/normalize"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func eventRecord(title, venueName string, day canonical.EventDay, sourceID string) normalize.NormalizedRecord {
	return normalize.NormalizedRecord{
		Entity: normalize.EntityEvent,
		Event: &normalize.EventRecord{
			Title:     title,
			VenueName: venueName,
			EventDay:  day,
		},
		Provenance: normalize.Provenance{SourceID: sourceID},
	}
}

func TestAcceptsWellFormedEvent(t *testing.T) {
	now := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	g := &Gate{Clock: fixedClock(now)}

	rec := eventRecord("King Stingray", "KEXP", canonical.NewEventDay(now.AddDate(0, 0, 10)), "kexp")
	v := g.Evaluate(rec)
	assert.Equal(t, Accept, v.Decision)
}

func TestQuarantinesPastEventDay(t *testing.T) {
	now := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	g := &Gate{Clock: fixedClock(now)}

	rec := eventRecord("Some Show", "Sunset Tavern", canonical.NewEventDay(now.AddDate(0, 0, -400)), "sunset_tavern")
	v := g.Evaluate(rec)
	require.Equal(t, Quarantine, v.Decision)
	assert.Contains(t, v.Reason, "event_day")

	pr := QuarantineRecord(rec, v)
	assert.Equal(t, canonical.ChangeQuarantine, pr.ChangeType)
	assert.Equal(t, "sunset_tavern", pr.APIName)
}

func TestQuarantinesShortTitle(t *testing.T) {
	now := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	g := &Gate{Clock: fixedClock(now)}

	rec := eventRecord("X", "Sunset Tavern", canonical.NewEventDay(now), "sunset_tavern")
	v := g.Evaluate(rec)
	require.Equal(t, Quarantine, v.Decision)
	assert.Contains(t, v.Reason, "title")
}

func TestQuarantinesEmptyVenue(t *testing.T) {
	now := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	g := &Gate{Clock: fixedClock(now)}

	rec := eventRecord("A Real Show", "", canonical.NewEventDay(now), "sunset_tavern")
	v := g.Evaluate(rec)
	require.Equal(t, Quarantine, v.Decision)
	assert.Contains(t, v.Reason, "venue")
}

func TestAcceptWithWarningsPassesThroughNormalizationWarnings(t *testing.T) {
	now := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	g := &Gate{Clock: fixedClock(now)}

	rec := eventRecord("A Real Show", "Sunset Tavern", canonical.NewEventDay(now), "sunset_tavern")
	rec.Normalization.Warnings = []string{"geocode unavailable"}
	v := g.Evaluate(rec)
	assert.Equal(t, AcceptWithWarnings, v.Decision)
	assert.Equal(t, []string{"geocode unavailable"}, v.Warnings)
}

func TestAcceptsEventDayAtLowerWindowBound(t *testing.T) {
	now := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	g := &Gate{Clock: fixedClock(now)}

	rec := eventRecord("A Real Show", "Sunset Tavern", canonical.NewEventDay(now.AddDate(0, 0, -365)), "sunset_tavern")
	v := g.Evaluate(rec)
	assert.Equal(t, Accept, v.Decision)
}

func TestQuarantinesEventDayOneDayBeforeLowerWindowBound(t *testing.T) {
	now := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	g := &Gate{Clock: fixedClock(now)}

	rec := eventRecord("A Real Show", "Sunset Tavern", canonical.NewEventDay(now.AddDate(0, 0, -366)), "sunset_tavern")
	v := g.Evaluate(rec)
	require.Equal(t, Quarantine, v.Decision)
	assert.Contains(t, v.Reason, "event_day")
}

func TestAcceptsEventDayAtUpperWindowBound(t *testing.T) {
	now := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	g := &Gate{Clock: fixedClock(now)}

	rec := eventRecord("A Real Show", "Sunset Tavern", canonical.NewEventDay(now.AddDate(0, 0, 730)), "sunset_tavern")
	v := g.Evaluate(rec)
	assert.Equal(t, Accept, v.Decision)
}

func TestQuarantinesEventDayOneDayAfterUpperWindowBound(t *testing.T) {
	now := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	g := &Gate{Clock: fixedClock(now)}

	rec := eventRecord("A Real Show", "Sunset Tavern", canonical.NewEventDay(now.AddDate(0, 0, 731)), "sunset_tavern")
	v := g.Evaluate(rec)
	require.Equal(t, Quarantine, v.Decision)
	assert.Contains(t, v.Reason, "event_day")
}

func TestQuarantinesTitleOfLengthOne(t *testing.T) {
	now := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	g := &Gate{Clock: fixedClock(now)}

	rec := eventRecord("X", "Sunset Tavern", canonical.NewEventDay(now), "sunset_tavern")
	v := g.Evaluate(rec)
	require.Equal(t, Quarantine, v.Decision)
	assert.Contains(t, v.Reason, "title")
}

func TestQuarantinesWhitespaceOnlyTitle(t *testing.T) {
	now := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	g := &Gate{Clock: fixedClock(now)}

	rec := eventRecord("   ", "Sunset Tavern", canonical.NewEventDay(now), "sunset_tavern")
	v := g.Evaluate(rec)
	require.Equal(t, Quarantine, v.Decision)
	assert.Contains(t, v.Reason, "title")
}

func TestNonEventEntitiesAlwaysAccept(t *testing.T) {
	g := &Gate{}
	rec := normalize.NormalizedRecord{Entity: normalize.EntityVenue, Venue: &normalize.VenueRecord{Name: ""}}
	v := g.Evaluate(rec)
	assert.Equal(t, Accept, v.Decision)
}
