// Package qualitygate assigns Accept/AcceptWithWarnings/Quarantine to a
// NormalizedRecord per the minimum rules of §4.7, grounded on the
// teacher's quarantine.Manager classification pattern
// (services/normalizer/internal/quarantine/quarantine_manager.go), adapted
// from a PII/schema rule set to this pipeline's title/venue/event_day
// rules.
package qualitygate

import (
	"strings"
	"time"

	"github.com/sms-collective/sms-pipeline/pkg/canonical"
	"github.com/sms-collective/sms-pipeline/pkg/normalize"
)

// Decision is the outcome of evaluating one NormalizedRecord.
type Decision string

const (
	Accept             Decision = "accept"
	AcceptWithWarnings Decision = "accept_with_warnings"
	Quarantine         Decision = "quarantine"
)

// Verdict is the result of Gate.Evaluate.
type Verdict struct {
	Decision Decision
	Warnings []string
	Reason   string // set when Decision == Quarantine
}

// Gate evaluates NormalizedRecords against the minimum acceptance rules
// (§4.7). The accepted event_day window is [today-365d, today+730d],
// both bounds inclusive, with today taken from Clock.
type Gate struct {
	Clock func() time.Time
}

func (g *Gate) clock() time.Time {
	if g.Clock != nil {
		return g.Clock()
	}
	return time.Now().UTC()
}

// Evaluate runs the four minimum rules against rec. Venue and Artist
// entity records always Accept — the rules are event-shaped by
// definition (§4.7 names title/venue/event_day/source_id, all of which
// only an Event record carries in full).
func (g *Gate) Evaluate(rec normalize.NormalizedRecord) Verdict {
	if rec.Entity != normalize.EntityEvent {
		return Verdict{Decision: Accept}
	}
	ev := rec.Event

	var reasons []string

	if len(strings.TrimSpace(ev.Title)) < 2 {
		reasons = append(reasons, "title trimmed length < 2")
	}
	if strings.TrimSpace(ev.VenueName) == "" {
		reasons = append(reasons, "venue name is empty")
	}
	if strings.TrimSpace(rec.Provenance.SourceID) == "" {
		reasons = append(reasons, "source_id is empty")
	}
	if !g.eventDayInRange(ev.EventDay) {
		reasons = append(reasons, "event_day outside [today-365d, today+730d]")
	}

	if len(reasons) > 0 {
		return Verdict{Decision: Quarantine, Reason: strings.Join(reasons, "; ")}
	}

	warnings := append([]string(nil), rec.Normalization.Warnings...)
	if len(warnings) > 0 {
		return Verdict{Decision: AcceptWithWarnings, Warnings: warnings}
	}
	return Verdict{Decision: Accept}
}

func (g *Gate) eventDayInRange(day canonical.EventDay) bool {
	if day.IsZero() {
		return false
	}
	today := canonical.NewEventDay(g.clock())
	min := today.AddDays(-365)
	max := today.AddDays(730)
	return !day.Before(min) && !day.After(max)
}

// QuarantineRecord builds a canonical.ProcessRecord describing a
// quarantined NormalizedRecord (§4.7, §4.10 "Run->Record has_record
// edge"). Catalog is responsible for assigning ID/ProcessRunID and
// persisting it.
func QuarantineRecord(rec normalize.NormalizedRecord, verdict Verdict) canonical.ProcessRecord {
	return canonical.ProcessRecord{
		APIName:    rec.Provenance.SourceID,
		ChangeType: canonical.ChangeQuarantine,
		ChangeLog:  verdict.Reason,
		CreatedAt:  rec.Provenance.NormalizedAt,
	}
}
