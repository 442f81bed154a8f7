// Package wiring assembles a pipeline.Runner for one source from this
// repo's root Config, shared by cmd/ingester and cmd/full-pipeline so both
// binaries construct the Gateway/Parse/Normalize/Quality
// Gate/Enrich/Conflation/Catalog stack identically.
package wiring

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/sms-collective/sms-pipeline/internal/config"
	"github.com/sms-collective/sms-pipeline/pkg/cas"
	"github.com/sms-collective/sms-pipeline/pkg/catalog"
	"github.com/sms-collective/sms-pipeline/pkg/conflation"
	"github.com/sms-collective/sms-pipeline/pkg/enrich"
	"github.com/sms-collective/sms-pipeline/pkg/gateway"
	"github.com/sms-collective/sms-pipeline/pkg/idempotency"
	"github.com/sms-collective/sms-pipeline/pkg/ingestlog"
	"github.com/sms-collective/sms-pipeline/pkg/normalize"
	"github.com/sms-collective/sms-pipeline/pkg/parse"
	"github.com/sms-collective/sms-pipeline/pkg/pipeline"
	"github.com/sms-collective/sms-pipeline/pkg/qualitygate"
	"github.com/sms-collective/sms-pipeline/pkg/ratelimit"
	"github.com/sms-collective/sms-pipeline/pkg/sources"
	"github.com/sms-collective/sms-pipeline/pkg/sourcespec"
	"github.com/sms-collective/sms-pipeline/pkg/telemetry"
)

// Environment bundles the shared, per-process resources every source's
// Runner is built against: the ingest log, its sidecar KV, the CAS
// backend, the catalog store, and the source adapter/spec registries.
type Environment struct {
	Config       config.Config
	Log          *ingestlog.Log
	Meta         *ingestlog.Meta
	Idem         idempotency.Store
	CAS          cas.Store
	Catalog      *catalog.Store
	Adapters     *sources.Registry
	Normalizers  *normalize.Registry
	Specs        *sourcespec.Registry
	Logger       *telemetry.Logger
	Meter        telemetry.Meter
	Resolver     *conflation.Resolver

	metaDB    *sql.DB
	catalogDB *sql.DB
	closers   []func() error
}

// Close releases every resource opened by Open, in reverse order.
func (e *Environment) Close() error {
	var first error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Open builds an Environment from cfg: the ingest log + sidecar meta.db,
// the dedupe store, the CAS backend (filesystem or Supabase per §6), the
// catalog store (libsql in production, sqlite locally), the default
// adapter registry, and a Conflation resolver seeded from the catalog's
// existing nodes (§4.9 step 2).
func Open(ctx context.Context, cfg config.Config) (*Environment, error) {
	env := &Environment{
		Config: cfg,
		Logger: telemetry.NewDefaultLogger(os.Stderr, "sms-pipeline"),
		Meter:  telemetry.NewPrometheusMeter(prometheus.NewRegistry()),
	}

	log, err := ingestlog.Open(cfg.LogDir, ingestlog.Options{})
	if err != nil {
		return nil, fmt.Errorf("wiring: open ingest log: %w", err)
	}
	env.Log = log
	env.closers = append(env.closers, log.Close)

	metaDB, err := sql.Open("sqlite3", filepath.Join(cfg.LogDir, "meta.db"))
	if err != nil {
		return nil, fmt.Errorf("wiring: open meta.db: %w", err)
	}
	env.closers = append(env.closers, metaDB.Close)
	env.metaDB = metaDB

	meta, err := ingestlog.OpenMeta(metaDB)
	if err != nil {
		return nil, fmt.Errorf("wiring: migrate meta.db: %w", err)
	}
	env.Meta = meta

	idem, err := idempotency.OpenSQLiteStore(metaDB, idempotency.Options{})
	if err != nil {
		return nil, fmt.Errorf("wiring: open dedupe store: %w", err)
	}
	env.Idem = idem

	casStore, err := openCAS(cfg)
	if err != nil {
		return nil, err
	}
	env.CAS = casStore

	catDriver, catDSN, err := cfg.Catalog.DSN()
	if err != nil {
		return nil, err
	}
	catDB, err := sql.Open(catDriver, catDSN)
	if err != nil {
		return nil, fmt.Errorf("wiring: open catalog db: %w", err)
	}
	env.closers = append(env.closers, catDB.Close)
	env.catalogDB = catDB

	store, err := catalog.Open(catDB)
	if err != nil {
		return nil, fmt.Errorf("wiring: migrate catalog: %w", err)
	}
	env.Catalog = store

	env.Adapters = sources.DefaultRegistry()

	normReg, err := normalize.NewDefaultRegistry(env.Adapters)
	if err != nil {
		return nil, fmt.Errorf("wiring: build normalizer registry: %w", err)
	}
	env.Normalizers = normReg

	if cfg.SourcesDir != "" {
		if specs, err := sourcespec.Load(cfg.SourcesDir); err == nil {
			env.Specs = specs
		}
	}

	resolver := conflation.NewResolver(0, 0)
	if err := pipeline.SeedResolver(ctx, store, resolver); err != nil {
		return nil, fmt.Errorf("wiring: seed resolver: %w", err)
	}
	env.Resolver = resolver

	return env, nil
}

func openCAS(cfg config.Config) (cas.Store, error) {
	switch cfg.CASBackend {
	case config.CASBackendSupabase:
		return cas.NewObjectStore(cas.ObjectStoreOptions{
			BaseURL:        cfg.Supabase.URL,
			ServiceRoleKey: cfg.Supabase.ServiceRoleKey,
			Bucket:         cfg.Supabase.Bucket,
			Prefix:         cfg.Supabase.Prefix,
			HTTPTimeout:    15 * time.Second,
		})
	default:
		return cas.NewFilesystemStore(filepath.Join(cfg.LogDir, "cas"))
	}
}

// Health checks every resource opened by Open and returns a normalized
// snapshot suitable for a CLI run summary or an operator dashboard. It
// never contacts a source adapter; it only confirms the environment's own
// backing stores answer.
func (e *Environment) Health(ctx context.Context) telemetry.HealthSnapshot {
	now := time.Now().UTC()
	comps := []telemetry.ComponentStatus{
		dbStatus(ctx, "meta_db", e.metaDB, now),
		dbStatus(ctx, "catalog_db", e.catalogDB, now),
		presenceStatus("ingest_log", e.Log != nil, now),
		presenceStatus("cas", e.CAS != nil, now),
		presenceStatus("resolver", e.Resolver != nil, now),
	}

	snap, err := telemetry.NewHealthSnapshot("sms-pipeline", "", "", comps, now)
	if err != nil {
		return telemetry.HealthSnapshot{
			Service:     "sms-pipeline",
			GeneratedAt: now,
			Overall:     telemetry.StatusFatal,
			Components:  []telemetry.ComponentStatus{{Name: "health", Status: telemetry.StatusFatal, CheckedAt: now, Message: err.Error()}},
		}
	}
	return snap
}

func dbStatus(ctx context.Context, name string, db *sql.DB, now time.Time) telemetry.ComponentStatus {
	if db == nil {
		return telemetry.ComponentStatus{Name: name, Status: telemetry.StatusUnknown, CheckedAt: now, Message: "not opened"}
	}
	if err := db.PingContext(ctx); err != nil {
		return telemetry.ComponentStatus{Name: name, Status: telemetry.StatusFatal, CheckedAt: now, Message: err.Error()}
	}
	return telemetry.ComponentStatus{Name: name, Status: telemetry.StatusOK, CheckedAt: now}
}

func presenceStatus(name string, present bool, now time.Time) telemetry.ComponentStatus {
	if !present {
		return telemetry.ComponentStatus{Name: name, Status: telemetry.StatusFatal, CheckedAt: now, Message: "not wired"}
	}
	return telemetry.ComponentStatus{Name: name, Status: telemetry.StatusOK, CheckedAt: now}
}

// Runner builds a pipeline.Runner for sourceID, applying any per-source
// rate-limit override from the Source Registry (§4.11).
func (e *Environment) Runner(sourceID string) (*pipeline.Runner, error) {
	adapter, err := e.Adapters.Get(sourceID)
	if err != nil {
		return nil, fmt.Errorf("wiring: unknown source %s: %w", sourceID, err)
	}

	rateGate := ratelimit.NewGate(e.Config.RateLimits)
	if e.Specs != nil {
		if spec, ok := e.Specs.Get(sourceID); ok {
			rateGate.Set(sourceID, ratelimit.Limits{
				RequestsPerMin: spec.RateLimits.RequestsPerMin,
				BytesPerMin:    spec.RateLimits.BytesPerMin,
				Concurrency:    spec.RateLimits.Concurrency,
			})
		}
	}

	gw := &gateway.Gateway{
		Adapter:   adapter,
		Log:       e.Log,
		CAS:       e.CAS,
		Idem:      e.Idem,
		RateLimit: rateGate,
		Cadence: &gateway.Cadence{
			Meta:       e.Meta,
			Bypass:     e.Config.Cadence.Bypass,
			ForceFresh: e.Config.Cadence.ForceFresh,
		},
		Meter:  e.Meter,
		Logger: e.Logger,
	}

	return &pipeline.Runner{
		Gateway:     gw,
		Parse:       parse.NewEngine(e.CAS, parse.NewRegistry()),
		Normalize:   normalize.NewEngine(e.Normalizers),
		QualityGate: &qualitygate.Gate{},
		Enrich:      &enrich.Enricher{},
		Resolver:    e.Resolver,
		Catalog:     e.Catalog,
		Logger:      e.Logger,
		Meter:       e.Meter,
	}, nil
}
