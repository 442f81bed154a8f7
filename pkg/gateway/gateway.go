// Package gateway implements the mediator between source adapters and the
// ingest log/CAS, running the seven-step ingestion attempt of §4.2.
package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sms-collective/sms-pipeline/pkg/cas"
	"github.com/sms-collective/sms-pipeline/pkg/envelope"
	"github.com/sms-collective/sms-pipeline/pkg/idempotency"
	"github.com/sms-collective/sms-pipeline/pkg/ingestlog"
	"github.com/sms-collective/sms-pipeline/pkg/ratelimit"
	"github.com/sms-collective/sms-pipeline/pkg/sources"
	"github.com/sms-collective/sms-pipeline/pkg/telemetry"
)

var (
	ErrTransport      = errors.New("gateway: transport failure")
	ErrPolicyRejected = errors.New("gateway: envelope rejected by policy")
)

// Outcome summarizes one Gateway attempt against a single fetched document.
type Outcome struct {
	Deduped  bool // dedupe_of was set; no new CAS write
	Envelope envelope.Envelope
}

// Cadence gates fetch attempts against a minimum per-source interval, per
// §4.2 step 1. BypassCadence/ForceFreshIngestion mirror the env vars in §6.
type Cadence struct {
	Meta            *ingestlog.Meta
	MinInterval     time.Duration
	Bypass          bool
	ForceFresh      bool
	Clock           func() time.Time
}

func (c *Cadence) allow(ctx context.Context, sourceID string) (bool, error) {
	if c.Bypass || c.ForceFresh {
		return true, nil
	}
	if c.MinInterval <= 0 {
		return true, nil
	}
	now := c.clock()
	last, ok, err := c.Meta.LastFetchedAt(ctx, sourceID)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	return now.Sub(last) >= c.MinInterval, nil
}

func (c *Cadence) clock() time.Time {
	if c.Clock != nil {
		return c.Clock()
	}
	return time.Now().UTC()
}

// Gateway wires one source adapter to the shared ingest log, CAS, dedupe
// store, and rate limiter, per §4.2.
type Gateway struct {
	Adapter    sources.Adapter
	Log        *ingestlog.Log
	CAS        cas.Store
	Idem       idempotency.Store
	RateLimit  *ratelimit.Gate
	Cadence    *Cadence
	Meter      telemetry.Meter
	Logger     *telemetry.Logger
	Clock      func() time.Time
}

func (g *Gateway) clock() time.Time {
	if g.Clock != nil {
		return g.Clock()
	}
	return time.Now().UTC()
}

func (g *Gateway) meter() telemetry.Meter {
	if g.Meter != nil {
		return g.Meter
	}
	return telemetry.NopMeter{}
}

// Run performs one ingestion attempt for every document the adapter's
// Fetch returns, in order. skipped is true when the cadence gate rejected
// the attempt outright (§4.2 step 1); no envelope is emitted in that case.
// Run stops and returns the error from the first step that fails the whole
// attempt (cadence/rate-limit/fetch); per-document idempotency/CAS/log
// failures are returned alongside whatever outcomes were already produced,
// matching the "commit point is log append" semantics of §4.2 — a failure
// never leaves a half-built envelope in the log.
func (g *Gateway) Run(ctx context.Context) (outcomes []Outcome, skipped bool, err error) {
	sourceID := g.Adapter.APIName()
	labels := telemetry.Labels{"source_id": sourceID}

	if g.Cadence != nil {
		allowed, cerr := g.Cadence.allow(ctx, sourceID)
		if cerr != nil {
			return nil, false, fmt.Errorf("gateway: cadence check: %w", cerr)
		}
		if !allowed {
			_ = g.meter().IncCounter(ctx, "gateway_skipped_by_cadence_total", 1, labels)
			return nil, true, nil
		}
	}

	release, err := g.RateLimit.Acquire(ctx, sourceID, 0)
	if err != nil {
		return nil, false, fmt.Errorf("gateway: rate limit acquire: %w", err)
	}
	defer release()

	docs, err := g.Adapter.Fetch(ctx)
	if err != nil {
		_ = g.meter().IncCounter(ctx, "gateway_fetch_errors_total", 1, labels)
		return nil, false, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	outcomes = make([]Outcome, 0, len(docs))
	for _, doc := range docs {
		out, ierr := g.ingestOne(ctx, sourceID, doc.Raw, doc.ContentType)
		if ierr != nil {
			_ = g.meter().IncCounter(ctx, "gateway_ingest_errors_total", 1, labels)
			return outcomes, false, ierr
		}
		outcomes = append(outcomes, out)
	}

	if g.Cadence != nil {
		_ = g.Cadence.Meta.SetLastFetchedAt(ctx, sourceID, g.clock())
	}
	_ = g.meter().IncCounter(ctx, "gateway_fetched_total", int64(len(outcomes)), labels)
	return outcomes, false, nil
}

func (g *Gateway) ingestOne(ctx context.Context, sourceID string, payload []byte, contentType string) (Outcome, error) {
	sum := sha256.Sum256(payload)
	hexDigest := hex.EncodeToString(sum[:])

	req := envelope.Request{Method: "GET"}
	key, err := idempotency.BuildKey(sourceID, idempotency.ScopeGatewayFetch, hexDigest, req.Canonical())
	if err != nil {
		return Outcome{}, fmt.Errorf("gateway: build idempotency key: %w", err)
	}

	begin, err := g.Idem.TryBegin(ctx, key, 0)
	if err != nil && !errors.Is(err, idempotency.ErrConflict) {
		return Outcome{}, fmt.Errorf("gateway: idempotency TryBegin: %w", err)
	}

	var payloadRef string
	var dedupeOf *uuid.UUID
	deduped := false

	if !begin.Fresh {
		// A prior fetch already completed this payload+request under this
		// source — reuse its CAS object and chain dedupe_of, per §4.2 step 4.
		if begin.Record.State == idempotency.StateComplete && len(begin.Record.ResultBytes) > 0 {
			var prior uuid.UUID
			if perr := prior.UnmarshalText(begin.Record.ResultBytes); perr == nil {
				dedupeOf = &prior
			}
		}
		payloadRef = envelope.RefFor(hexDigest)
		deduped = true
	} else {
		ref, err := g.CAS.Put(ctx, payload)
		if err != nil {
			_, _ = g.Idem.Fail(ctx, key, begin.Record.OwnerToken, "cas_write_failed", err.Error())
			return Outcome{}, fmt.Errorf("gateway: cas put: %w", err)
		}
		payloadRef = ref
	}

	env := envelope.Envelope{
		EnvelopeID: uuid.New(),
		SourceID:   sourceID,
		FetchedAt:  g.clock(),
		Request:    req,
		PayloadMeta: envelope.PayloadMeta{
			Bytes:       int64(len(payload)),
			Checksum:    envelope.Checksum{SHA256: hexDigest},
			ContentType: contentType,
		},
		PayloadRef:     payloadRef,
		IdempotencyKey: key,
		DedupeOf:       dedupeOf,
		SchemaVersion:  envelope.SchemaVersion,
	}

	if err := env.Validate(); err != nil {
		if begin.Fresh {
			_, _ = g.Idem.Fail(ctx, key, begin.Record.OwnerToken, "envelope_invalid", err.Error())
		}
		return Outcome{}, fmt.Errorf("%w: %v", ErrPolicyRejected, err)
	}

	if err := g.Log.Append(ctx, env); err != nil {
		if begin.Fresh {
			_, _ = g.Idem.Fail(ctx, key, begin.Record.OwnerToken, "log_append_failed", err.Error())
		}
		return Outcome{}, fmt.Errorf("gateway: log append: %w", err)
	}

	if begin.Fresh {
		idBytes, _ := env.EnvelopeID.MarshalText()
		if _, err := g.Idem.Complete(ctx, key, begin.Record.OwnerToken, idBytes); err != nil {
			g.warn(ctx, "gateway: idempotency complete failed after successful append", sourceID, err)
		}
	}

	return Outcome{Deduped: deduped, Envelope: env}, nil
}

func (g *Gateway) warn(ctx context.Context, msg, sourceID string, err error) {
	if g.Logger == nil {
		return
	}
	g.Logger.Warn(ctx, msg, map[string]any{"source_id": sourceID, "error": err.Error()})
}
