package wiring

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sms-collective/sms-pipeline/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	return config.Config{
		LogDir:     dir,
		SourcesDir: "",
		CASBackend: config.CASBackendFilesystem,
		Catalog:    config.Catalog{SQLitePath: filepath.Join(dir, "catalog.db")},
	}
}

func TestOpenAssemblesEveryResource(t *testing.T) {
	env, err := Open(context.Background(), testConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = env.Close() })

	assert.NotNil(t, env.Log)
	assert.NotNil(t, env.Meta)
	assert.NotNil(t, env.Idem)
	assert.NotNil(t, env.CAS)
	assert.NotNil(t, env.Catalog)
	assert.NotNil(t, env.Adapters)
	assert.NotNil(t, env.Normalizers)
	assert.NotNil(t, env.Resolver)
	assert.Nil(t, env.Specs, "no SourcesDir configured, so no Source Registry is loaded")
}

func TestRunnerBuildsAFullyWiredPipelineForAKnownSource(t *testing.T) {
	env, err := Open(context.Background(), testConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = env.Close() })

	runner, err := env.Runner("kexp")
	require.NoError(t, err)
	assert.NotNil(t, runner.Gateway)
	assert.NotNil(t, runner.Parse)
	assert.NotNil(t, runner.Normalize)
	assert.NotNil(t, runner.QualityGate)
	assert.NotNil(t, runner.Enrich)
	assert.NotNil(t, runner.Resolver)
	assert.Same(t, env.Catalog, runner.Catalog)
}

func TestRunnerRejectsUnknownSource(t *testing.T) {
	env, err := Open(context.Background(), testConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = env.Close() })

	_, err = env.Runner("does-not-exist")
	assert.Error(t, err)
}
