package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMergesBaseAndEnvTiers(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pipeline.json"), []byte(`{"log_dir":"base-log","rate_limits":{"concurrency":4}}`), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "env", "prod"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "env", "prod", "pipeline.json"), []byte(`{"log_dir":"prod-log"}`), 0o644))

	loader, err := NewLoader(dir, Options{Service: "pipeline", Env: "prod"})
	require.NoError(t, err)

	bundle, err := loader.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "prod-log", bundle.Merged["log_dir"])
	rl, ok := bundle.Merged["rate_limits"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 4, rl["concurrency"])
}

func TestLoadAcceptsJSONAsYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pipeline.yaml"), []byte(`{"sources_dir":"feeds"}`), 0o644))

	loader, err := NewLoader(dir, Options{Service: "pipeline"})
	require.NoError(t, err)

	bundle, err := loader.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "feeds", bundle.Merged["sources_dir"])
}

func TestLoadAcceptsPlainYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pipeline.yaml"), []byte("sources_dir: feeds\nrate_limits:\n  concurrency: 2\n"), 0o644))

	loader, err := NewLoader(dir, Options{Service: "pipeline"})
	require.NoError(t, err)

	bundle, err := loader.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "feeds", bundle.Merged["sources_dir"])
}

func TestNewLoaderRejectsMissingService(t *testing.T) {
	_, err := NewLoader(t.TempDir(), Options{})
	assert.ErrorIs(t, err, ErrInvalidOptions)
}

func TestNewLoaderRejectsNonexistentRoot(t *testing.T) {
	_, err := NewLoader(filepath.Join(t.TempDir(), "missing"), Options{Service: "pipeline"})
	assert.ErrorIs(t, err, ErrInvalidRoot)
}
