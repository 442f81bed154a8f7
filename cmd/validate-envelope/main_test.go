package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sms-collective/sms-pipeline/pkg/envelope"
)

func writeEnvelope(t *testing.T, dir string, env envelope.Envelope) string {
	t.Helper()
	body, err := json.Marshal(env)
	require.NoError(t, err)
	path := filepath.Join(dir, "envelope.json")
	require.NoError(t, os.WriteFile(path, body, 0o644))
	return path
}

const zeroSHA256 = "0000000000000000000000000000000000000000000000000000000000000000"

func validEnvelope() envelope.Envelope {
	digest := zeroSHA256
	if len(digest) > 64 {
		digest = digest[:64]
	}
	return envelope.Envelope{
		EnvelopeID:     uuid.New(),
		SourceID:       "kexp",
		FetchedAt:      time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC),
		PayloadRef:     envelope.RefFor(digest),
		IdempotencyKey: "kexp:2026-07-31",
		SchemaVersion:  envelope.SchemaVersion,
		PayloadMeta: envelope.PayloadMeta{
			Checksum: envelope.Checksum{SHA256: digest},
		},
	}
}

func TestValidateAcceptsWellFormedEnvelope(t *testing.T) {
	dir := t.TempDir()
	path := writeEnvelope(t, dir, validEnvelope())

	env, err := validate(path, "")
	require.NoError(t, err)
	assert.Equal(t, "kexp", env.SourceID)
}

func TestValidateRejectsMissingSourceID(t *testing.T) {
	dir := t.TempDir()
	bad := validEnvelope()
	bad.SourceID = ""
	path := writeEnvelope(t, dir, bad)

	_, err := validate(path, "")
	assert.Error(t, err)
}

func TestValidateRejectsUnreadableFile(t *testing.T) {
	_, err := validate(filepath.Join(t.TempDir(), "missing.json"), "")
	assert.Error(t, err)
}

func TestValidateRejectsInvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))

	_, err := validate(path, "")
	assert.Error(t, err)
}

func TestValidateRejectsMissingSchemaFile(t *testing.T) {
	dir := t.TempDir()
	path := writeEnvelope(t, dir, validEnvelope())

	_, err := validate(path, filepath.Join(dir, "does-not-exist.schema.json"))
	assert.Error(t, err)
}
