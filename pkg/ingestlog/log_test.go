package ingestlog

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sms-collective/sms-pipeline/pkg/envelope"
)

func testEnvelope(t *testing.T, sourceID string) envelope.Envelope {
	t.Helper()
	return envelope.Envelope{
		EnvelopeID: uuid.New(),
		SourceID:   sourceID,
		FetchedAt:  time.Now().UTC(),
		Request:    envelope.Request{URL: "https://api.kexp.org/events", Method: "GET"},
		PayloadMeta: envelope.PayloadMeta{
			Bytes:       9,
			Checksum:    envelope.Checksum{SHA256: "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"},
			ContentType: "application/json",
		},
		PayloadRef:     envelope.RefFor("9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"),
		IdempotencyKey: "v1:" + sourceID + ":gateway.fetch:deadbeef",
		SchemaVersion:  envelope.SchemaVersion,
	}
}

func TestAppendAndFindById(t *testing.T) {
	log, err := Open(t.TempDir(), Options{})
	require.NoError(t, err)
	defer log.Close()

	env := testEnvelope(t, "kexp")
	require.NoError(t, log.Append(context.Background(), env))

	got, ok, err := log.FindById(context.Background(), env.EnvelopeID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, env.SourceID, got.SourceID)
}

func TestReadFromReturnsCommitOrder(t *testing.T) {
	log, err := Open(t.TempDir(), Options{})
	require.NoError(t, err)
	defer log.Close()

	ctx := context.Background()
	e1 := testEnvelope(t, "kexp")
	e2 := testEnvelope(t, "sea_monster")
	require.NoError(t, log.Append(ctx, e1))
	require.NoError(t, log.Append(ctx, e2))

	entries, err := log.ReadFrom(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, e1.EnvelopeID, entries[0].Envelope.EnvelopeID)
	assert.Equal(t, e2.EnvelopeID, entries[1].Envelope.EnvelopeID)
}

func TestReadFromResumesAfterOffset(t *testing.T) {
	log, err := Open(t.TempDir(), Options{})
	require.NoError(t, err)
	defer log.Close()

	ctx := context.Background()
	e1 := testEnvelope(t, "kexp")
	require.NoError(t, log.Append(ctx, e1))
	file, offset := log.CurrentPosition()

	e2 := testEnvelope(t, "kexp")
	require.NoError(t, log.Append(ctx, e2))

	entries, err := log.ReadFrom(ctx, file, offset)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, e2.EnvelopeID, entries[0].Envelope.EnvelopeID)
}

func TestRotationBySize(t *testing.T) {
	log, err := Open(t.TempDir(), Options{MaxFileBytes: 1})
	require.NoError(t, err)
	defer log.Close()

	ctx := context.Background()
	e1 := testEnvelope(t, "kexp")
	e2 := testEnvelope(t, "kexp")
	require.NoError(t, log.Append(ctx, e1))
	name1, _ := log.CurrentPosition()
	require.NoError(t, log.Append(ctx, e2))
	name2, _ := log.CurrentPosition()
	assert.NotEqual(t, name1, name2, "exceeding MaxFileBytes should roll to a new segment")
}
