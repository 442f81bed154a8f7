// Package config assembles this pipeline's root configuration: the
// catalog store DSN, the CAS backend selection, the ingest log/sidecar KV
// directory, default rate limits, and the cadence-bypass toggles of §6.
// It layers file-based defaults through the reusable pkg/config.Loader and
// then applies the plain (unprefixed) environment variables §6 names
// explicitly, since those are operator-facing secrets and toggles; the
// loader itself only layers files and reads no environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sms-collective/sms-pipeline/pkg/ratelimit"
	pkgconfig "github.com/sms-collective/sms-pipeline/pkg/config"
)

// ErrMissingCatalogDSN is returned when neither a libsql URL nor a local
// sqlite path is configured for the catalog store (§7 ConfigError).
var ErrMissingCatalogDSN = errors.New("config: no catalog store configured (set LIBSQL_URL or catalog_sqlite_path)")

// CASBackend selects which object-store backend Gateway writes payloads
// to (§6 "object-store CAS backend").
type CASBackend string

const (
	CASBackendFilesystem CASBackend = "filesystem"
	CASBackendSupabase   CASBackend = "supabase"
)

// Catalog holds the catalog store's connection details.
type Catalog struct {
	LibSQLURL       string
	LibSQLAuthToken string
	SQLitePath      string // local fallback, used by tests and single-node deployments
}

// DSN reports which connection string the catalog should open, preferring
// the production libsql URL over the local sqlite fallback.
func (c Catalog) DSN() (driver, dsn string, err error) {
	if c.LibSQLURL != "" {
		return "libsql", c.LibSQLURL, nil
	}
	if c.SQLitePath != "" {
		return "sqlite3", c.SQLitePath, nil
	}
	return "", "", ErrMissingCatalogDSN
}

// Supabase holds the object-store CAS backend's credentials.
type Supabase struct {
	URL            string
	ProjectRef     string
	ServiceRoleKey string
	Bucket         string
	Prefix         string
}

// Cadence holds the §6 cadence-gate toggles.
type Cadence struct {
	Bypass     bool // BYPASS_CADENCE
	ForceFresh bool // FORCE_FRESH_INGESTION
}

// Config is the pipeline's root configuration.
type Config struct {
	Catalog     Catalog
	CASBackend  CASBackend
	Supabase    Supabase
	Cadence     Cadence
	LogDir      string
	SourcesDir  string
	RateLimits  ratelimit.Limits
}

// Load reads layered file config under root (if root is non-empty and
// exists) via pkg/config.Loader, then overlays the §6 environment
// variables, which always win.
func Load(ctx context.Context, root string) (Config, error) {
	cfg := Config{
		LogDir:      "ingest-log",
		SourcesDir:  "sources",
		CASBackend:  CASBackendFilesystem,
		RateLimits:  ratelimit.Limits{Concurrency: 4},
	}

	if root != "" {
		if info, err := os.Stat(root); err == nil && info.IsDir() {
			loader, err := pkgconfig.NewLoader(root, pkgconfig.Options{Service: "pipeline"})
			if err != nil {
				return Config{}, fmt.Errorf("config: new loader: %w", err)
			}
			bundle, err := loader.Load(ctx)
			if err != nil && !errors.Is(err, pkgconfig.ErrNotFound) {
				return Config{}, fmt.Errorf("config: load: %w", err)
			}
			if bundle != nil {
				applyBundle(&cfg, bundle.Merged)
			}
		}
	}

	applyEnv(&cfg)

	if cfg.CASBackend == CASBackendSupabase {
		if cfg.Supabase.Bucket == "" || cfg.Supabase.ServiceRoleKey == "" {
			return Config{}, errors.New("config: supabase backend selected but SUPABASE_BUCKET/SUPABASE_SERVICE_ROLE_KEY missing")
		}
	}

	return cfg, nil
}

func applyBundle(cfg *Config, merged map[string]any) {
	if v, ok := merged["log_dir"].(string); ok && v != "" {
		cfg.LogDir = v
	}
	if v, ok := merged["sources_dir"].(string); ok && v != "" {
		cfg.SourcesDir = v
	}
	if v, ok := merged["catalog_sqlite_path"].(string); ok && v != "" {
		cfg.Catalog.SQLitePath = v
	}
	if rl, ok := merged["rate_limits"].(map[string]any); ok {
		if n, ok := asInt(rl["requests_per_min"]); ok {
			cfg.RateLimits.RequestsPerMin = n
		}
		if n, ok := asInt(rl["bytes_per_min"]); ok {
			cfg.RateLimits.BytesPerMin = n
		}
		if n, ok := asInt(rl["concurrency"]); ok {
			cfg.RateLimits.Concurrency = n
		}
	}
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// applyEnv overlays the §6 operator-facing env vars, which take
// precedence over any file-layered default.
func applyEnv(cfg *Config) {
	if v := os.Getenv("LIBSQL_URL"); v != "" {
		cfg.Catalog.LibSQLURL = v
	}
	if v := os.Getenv("LIBSQL_AUTH_TOKEN"); v != "" {
		cfg.Catalog.LibSQLAuthToken = v
	}

	supabaseURL := os.Getenv("SUPABASE_URL")
	projectRef := os.Getenv("SUPABASE_PROJECT_REF")
	if supabaseURL != "" || projectRef != "" {
		cfg.CASBackend = CASBackendSupabase
		cfg.Supabase.URL = supabaseURL
		cfg.Supabase.ProjectRef = projectRef
		cfg.Supabase.ServiceRoleKey = os.Getenv("SUPABASE_SERVICE_ROLE_KEY")
		cfg.Supabase.Bucket = os.Getenv("SUPABASE_BUCKET")
		cfg.Supabase.Prefix = os.Getenv("SUPABASE_PREFIX")
	}

	cfg.Cadence.Bypass = envBool("BYPASS_CADENCE")
	cfg.Cadence.ForceFresh = envBool("FORCE_FRESH_INGESTION")
}

func envBool(name string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(name)))
	if v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return v == "yes" || v == "on"
	}
	return b
}
