package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildKeyDeterministic(t *testing.T) {
	k1, err := BuildKey("kexp", ScopeGatewayFetch, "abc123", map[string]any{"b": 2, "a": 1})
	require.NoError(t, err)
	k2, err := BuildKey("KEXP", ScopeGatewayFetch, "abc123", map[string]any{"a": 1, "b": 2})
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
}

func TestBuildKeyDiffersByScope(t *testing.T) {
	k1, err := BuildKey("kexp", ScopeGatewayFetch, "abc123")
	require.NoError(t, err)
	k2, err := BuildKey("kexp", ScopeCatalogUpsert, "abc123")
	require.NoError(t, err)
	assert.NotEqual(t, k1, k2)
}

func TestParseKeyRoundTrip(t *testing.T) {
	key, err := BuildKey("sea_monster", ScopeGatewayFetch, "payload")
	require.NoError(t, err)
	parts, err := ParseKey(key)
	require.NoError(t, err)
	assert.Equal(t, "sea_monster", parts.SourceID)
	assert.Equal(t, ScopeGatewayFetch, parts.Scope)
}

func TestMemoryStoreSecondFetchIsDeduped(t *testing.T) {
	store := NewMemoryStore(Options{})
	ctx := context.Background()
	key, err := BuildKey("kexp", ScopeGatewayFetch, "same-payload")
	require.NoError(t, err)

	begin1, err := store.TryBegin(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, begin1.Fresh)

	rec, err := store.Complete(ctx, key, begin1.Record.OwnerToken, []byte("cas:sha256:deadbeef"))
	require.NoError(t, err)
	assert.Equal(t, StateComplete, rec.State)

	begin2, err := store.TryBegin(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, begin2.Fresh, "replayed fetch of identical payload must short-circuit")
	assert.Equal(t, rec.ResultHash, begin2.Record.ResultHash)
}

func TestMemoryStoreConcurrentInProgressConflicts(t *testing.T) {
	store := NewMemoryStore(Options{})
	ctx := context.Background()
	key, err := BuildKey("kexp", ScopeGatewayFetch, "in-flight")
	require.NoError(t, err)

	begin1, err := store.TryBegin(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, begin1.Fresh)

	_, err = store.TryBegin(ctx, key, time.Minute)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestMemoryStoreExpiredLeaseIsReplaced(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := NewMemoryStore(Options{Clock: func() time.Time { return now }})
	ctx := context.Background()
	key, err := BuildKey("kexp", ScopeGatewayFetch, "stale")
	require.NoError(t, err)

	_, err = store.TryBegin(ctx, key, time.Second)
	require.NoError(t, err)

	now = now.Add(2 * time.Second)
	begin2, err := store.TryBegin(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, begin2.Fresh)
}
