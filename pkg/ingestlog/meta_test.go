package ingestlog

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestMeta(t *testing.T) *Meta {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	meta, err := OpenMeta(db)
	require.NoError(t, err)
	return meta
}

func TestCommitAndGetOffset(t *testing.T) {
	meta := openTestMeta(t)
	ctx := context.Background()

	_, ok, err := meta.GetOffset(ctx, "catalog")
	require.NoError(t, err)
	assert.False(t, ok)

	off := Offset{File: "ingest-20260730-01.jsonl", ByteOffset: 128, EnvelopeID: "abc"}
	require.NoError(t, meta.CommitOffset(ctx, "catalog", off))

	got, ok, err := meta.GetOffset(ctx, "catalog")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, off, got)
}

func TestFetchCadenceRoundTrip(t *testing.T) {
	meta := openTestMeta(t)
	ctx := context.Background()

	_, ok, err := meta.LastFetchedAt(ctx, "kexp")
	require.NoError(t, err)
	assert.False(t, ok)

	now := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, meta.SetLastFetchedAt(ctx, "kexp", now))

	got, ok, err := meta.LastFetchedAt(ctx, "kexp")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, now.Equal(got))
}
