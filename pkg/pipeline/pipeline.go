// Package pipeline wires Gateway, Parse, Normalize, Quality Gate, Enrich,
// Conflation, and Catalog into the single run-a-source attempt of §4, and
// is the home of the per-source summary line printed by the CLI (§7
// "User-visible behavior"). Its linear, logged, per-step trace shape is
// grounded on the teacher's
// services/orchestrator/internal/workflow/executor.go Execute, reduced
// from a DAG-of-arbitrary-steps model to this pipeline's fixed seven-stage
// sequence since every source runs the same steps in the same order.
package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/sms-collective/sms-pipeline/pkg/canonical"
	"github.com/sms-collective/sms-pipeline/pkg/catalog"
	"github.com/sms-collective/sms-pipeline/pkg/conflation"
	"github.com/sms-collective/sms-pipeline/pkg/enrich"
	"github.com/sms-collective/sms-pipeline/pkg/gateway"
	"github.com/sms-collective/sms-pipeline/pkg/normalize"
	"github.com/sms-collective/sms-pipeline/pkg/parse"
	"github.com/sms-collective/sms-pipeline/pkg/qualitygate"
	"github.com/sms-collective/sms-pipeline/pkg/telemetry"
)

// Summary is the one-line-per-source result the CLI prints (§7).
type Summary struct {
	SourceID    string `json:"source_id"`
	Fetched     int    `json:"fetched"`
	Deduped     int    `json:"deduped"`
	Parsed      int    `json:"parsed"`
	Normalized  int    `json:"normalized"`
	Quarantined int    `json:"quarantined"`
	Cataloged   int    `json:"cataloged"`
	Errors      int    `json:"errors"`
	Skipped     bool   `json:"skipped_by_cadence"`
}

func (s Summary) String() string {
	if s.Skipped {
		return fmt.Sprintf("%s: skipped_by_cadence", s.SourceID)
	}
	return fmt.Sprintf(
		"%s: fetched=%d deduped=%d parsed=%d normalized=%d quarantined=%d cataloged=%d errors=%d",
		s.SourceID, s.Fetched, s.Deduped, s.Parsed, s.Normalized, s.Quarantined, s.Cataloged, s.Errors,
	)
}

// Runner ties one source's Gateway to the shared Parse/Normalize/Quality
// Gate/Enrich/Conflation/Catalog stages. Parse/Normalize/Catalog errors are
// per-record and never abort the run (§4.2 "Propagation policy"); only a
// Gateway-level failure (cadence error, rate limit, transport) stops the
// run early.
type Runner struct {
	Gateway     *gateway.Gateway
	Parse       *parse.Engine
	Normalize   *normalize.Engine
	QualityGate *qualitygate.Gate
	Enrich      *enrich.Enricher
	Resolver    *conflation.Resolver
	Catalog     *catalog.Store
	Logger      *telemetry.Logger
	Meter       telemetry.Meter
}

func (r *Runner) meter() telemetry.Meter {
	if r.Meter != nil {
		return r.Meter
	}
	return telemetry.NopMeter{}
}

func (r *Runner) warn(ctx context.Context, msg, sourceID string, err error) {
	if r.Logger == nil {
		return
	}
	r.Logger.Warn(ctx, msg, map[string]any{"source_id": sourceID, "error": err.Error()})
}

// RunSource executes one Gateway attempt for the Runner's adapter and
// drives every fetched envelope through Parse, Normalize, Quality Gate,
// Enrich, Conflation, and Catalog, within a single ProcessRun. It returns
// the per-source Summary whether or not individual records failed.
func (r *Runner) RunSource(ctx context.Context, runName string) (Summary, error) {
	sourceID := r.Gateway.Adapter.APIName()
	summary := Summary{SourceID: sourceID}
	labels := telemetry.Labels{"source_id": sourceID}

	outcomes, skipped, err := r.Gateway.Run(ctx)
	if err != nil {
		return summary, fmt.Errorf("pipeline: gateway: %w", err)
	}
	if skipped {
		summary.Skipped = true
		return summary, nil
	}
	summary.Fetched = len(outcomes)

	run, err := r.Catalog.StartRun(ctx, runName)
	if err != nil {
		return summary, fmt.Errorf("pipeline: start run: %w", err)
	}
	defer func() { _ = r.Catalog.FinishRun(ctx, run.ID) }()

	for _, outcome := range outcomes {
		if outcome.Deduped {
			summary.Deduped++
		}
		r.runEnvelope(ctx, run.ID, sourceID, outcome, &summary, labels)
	}

	return summary, nil
}

func (r *Runner) runEnvelope(ctx context.Context, runID uuid.UUID, sourceID string, outcome gateway.Outcome, summary *Summary, labels telemetry.Labels) {
	records, err := r.Parse.Run(ctx, sourceID, outcome.Envelope.EnvelopeID, outcome.Envelope.PayloadRef)
	if err != nil {
		summary.Errors++
		_ = r.meter().IncCounter(ctx, "pipeline_parse_errors_total", 1, labels)
		r.warn(ctx, "pipeline: parse failed", sourceID, err)
		return
	}
	summary.Parsed += len(records)

	for _, rec := range records {
		r.runRecord(ctx, runID, rec, summary, labels)
	}
}

func (r *Runner) runRecord(ctx context.Context, runID uuid.UUID, rec parse.Record, summary *Summary, labels telemetry.Labels) {
	normalized, err := r.Normalize.Run(ctx, rec)
	if err != nil {
		summary.Errors++
		_ = r.meter().IncCounter(ctx, "pipeline_normalize_errors_total", 1, labels)
		r.warn(ctx, "pipeline: normalize failed", rec.SourceID, err)
		return
	}
	summary.Normalized += len(normalized)

	for _, nrec := range normalized {
		verdict := r.QualityGate.Evaluate(nrec)
		if verdict.Decision == qualitygate.Quarantine {
			summary.Quarantined++
			pr := qualitygate.QuarantineRecord(nrec, verdict)
			if _, err := r.Catalog.WriteQuarantineRecord(ctx, runID, pr); err != nil {
				summary.Errors++
				r.warn(ctx, "pipeline: write quarantine record failed", nrec.Provenance.SourceID, err)
			}
			continue
		}

		enriched, err := r.Enrich.Enrich(ctx, nrec)
		if err != nil {
			summary.Errors++
			_ = r.meter().IncCounter(ctx, "pipeline_enrich_errors_total", 1, labels)
			r.warn(ctx, "pipeline: enrich failed", nrec.Provenance.SourceID, err)
			continue
		}

		conflated := r.Resolver.Resolve(enriched, uuid.Nil)

		pr, err := r.Catalog.WriteRecord(ctx, runID, conflated)
		if err != nil {
			summary.Errors++
			_ = r.meter().IncCounter(ctx, "pipeline_catalog_errors_total", 1, labels)
			r.warn(ctx, "pipeline: catalog write failed", nrec.Provenance.SourceID, err)
			continue
		}
		if pr.ChangeType != canonical.ChangeNoChange {
			summary.Cataloged++
		}
	}
}

// SeedResolver preloads a Resolver's venue/artist key indexes from the
// catalog's current nodes, so identity continuity survives across runs
// (§4.9 step 2).
func SeedResolver(ctx context.Context, store *catalog.Store, resolver *conflation.Resolver) error {
	venues, err := store.LoadVenueSeeds(ctx)
	if err != nil {
		return fmt.Errorf("pipeline: seed resolver: venues: %w", err)
	}
	for _, v := range venues {
		resolver.SeedVenue(v.Name, v.ID)
	}

	artists, err := store.LoadArtistSeeds(ctx)
	if err != nil {
		return fmt.Errorf("pipeline: seed resolver: artists: %w", err)
	}
	for _, a := range artists {
		resolver.SeedArtist(a.Name, a.ID)
	}
	return nil
}
