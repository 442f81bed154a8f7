package sourcespec

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSpec(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestLoadValidatesAndIndexesBySourceID(t *testing.T) {
	dir := t.TempDir()
	writeSpec(t, dir, "kexp.json", `{
		"source_id": "kexp",
		"enabled": true,
		"endpoints": [{"url": "https://api.kexp.org/events", "method": "GET"}],
		"content": {"allowed_mime_types": ["application/json"], "max_payload_size_bytes": 1048576},
		"policy": {"license_id": "kexp-public"},
		"some_unknown_field": "ignored"
	}`)

	reg, err := Load(dir)
	require.NoError(t, err)

	spec, ok := reg.Get("kexp")
	require.True(t, ok)
	assert.True(t, spec.Enabled)
	assert.Equal(t, []string{"kexp"}, reg.Enabled())
}

func TestLoadRejectsMissingLicense(t *testing.T) {
	dir := t.TempDir()
	writeSpec(t, dir, "bad.json", `{
		"source_id": "bad",
		"enabled": true,
		"endpoints": [{"url": "https://example.com", "method": "GET"}],
		"content": {},
		"policy": {}
	}`)

	_, err := Load(dir)
	assert.ErrorIs(t, err, ErrMissingLicense)
}

func TestLoadSkipsNonJSONFiles(t *testing.T) {
	dir := t.TempDir()
	writeSpec(t, dir, "README.md", "not a spec")
	writeSpec(t, dir, "kexp.json", `{
		"source_id": "kexp",
		"enabled": false,
		"endpoints": [{"url": "https://api.kexp.org/events", "method": "GET"}],
		"content": {},
		"policy": {"license_id": "kexp-public"}
	}`)

	reg, err := Load(dir)
	require.NoError(t, err)
	assert.Len(t, reg.All(), 1)
	assert.Empty(t, reg.Enabled())
}
