package gateway

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sms-collective/sms-pipeline/pkg/cas"
	"github.com/sms-collective/sms-pipeline/pkg/idempotency"
	"github.com/sms-collective/sms-pipeline/pkg/ingestlog"
	"github.com/sms-collective/sms-pipeline/pkg/ratelimit"
	"github.com/sms-collective/sms-pipeline/pkg/sources"
)

func openSharedMetaDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

type fakeAdapter struct {
	name string
	docs []sources.Document
}

func (f *fakeAdapter) APIName() string { return f.name }
func (f *fakeAdapter) Fetch(ctx context.Context) ([]sources.Document, error) {
	return f.docs, nil
}
func (f *fakeAdapter) ExtractSummary(sources.Document) (sources.Summary, error) { return sources.Summary{}, nil }
func (f *fakeAdapter) ExtractArgs(sources.Document) (sources.EventArgs, error)   { return sources.EventArgs{}, nil }

func newTestGateway(t *testing.T, adapter sources.Adapter) *Gateway {
	t.Helper()
	log, err := ingestlog.Open(t.TempDir(), ingestlog.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })

	store, err := cas.NewFilesystemStore(t.TempDir())
	require.NoError(t, err)

	return &Gateway{
		Adapter:   adapter,
		Log:       log,
		CAS:       store,
		Idem:      idempotency.NewMemoryStore(idempotency.Options{}),
		RateLimit: ratelimit.NewGate(ratelimit.Limits{Concurrency: 4}),
	}
}

func doc(body string) sources.Document {
	return sources.Document{Raw: json.RawMessage(body), ContentType: "application/json"}
}

func TestRunWritesOneEnvelopePerDocument(t *testing.T) {
	adapter := &fakeAdapter{name: "kexp", docs: []sources.Document{doc(`{"a":1}`), doc(`{"a":2}`)}}
	gw := newTestGateway(t, adapter)

	outcomes, skipped, err := gw.Run(context.Background())
	require.NoError(t, err)
	require.False(t, skipped)
	require.Len(t, outcomes, 2)
	assert.False(t, outcomes[0].Deduped)
	assert.False(t, outcomes[1].Deduped)
	assert.NotEqual(t, outcomes[0].Envelope.PayloadRef, outcomes[1].Envelope.PayloadRef)
}

func TestSecondFetchOfIdenticalBytesIsDeduped(t *testing.T) {
	body := `{"event":"king stingray"}`
	adapter := &fakeAdapter{name: "kexp", docs: []sources.Document{doc(body)}}
	gw := newTestGateway(t, adapter)

	first, skipped, err := gw.Run(context.Background())
	require.NoError(t, err)
	require.False(t, skipped)
	require.Len(t, first, 1)
	require.False(t, first[0].Deduped)

	second, skipped, err := gw.Run(context.Background())
	require.NoError(t, err)
	require.False(t, skipped)
	require.Len(t, second, 1)
	assert.True(t, second[0].Deduped)
	assert.Equal(t, first[0].Envelope.PayloadRef, second[0].Envelope.PayloadRef)
	require.NotNil(t, second[0].Envelope.DedupeOf)
	assert.Equal(t, first[0].Envelope.EnvelopeID, *second[0].Envelope.DedupeOf)
}

func TestCadenceSkipsWithinMinInterval(t *testing.T) {
	adapter := &fakeAdapter{name: "kexp", docs: []sources.Document{doc(`{"a":1}`)}}
	gw := newTestGateway(t, adapter)

	db := openSharedMetaDB(t)
	meta, err := ingestlog.OpenMeta(db)
	require.NoError(t, err)
	gw.Cadence = &Cadence{Meta: meta, MinInterval: time.Minute}

	first, skipped, err := gw.Run(context.Background())
	require.NoError(t, err)
	require.False(t, skipped)
	require.Len(t, first, 1)

	second, skipped, err := gw.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, skipped, "second attempt within the cadence window should be skipped")
	assert.Empty(t, second)
}

func TestCadenceBypassAllowsBothAttempts(t *testing.T) {
	adapter := &fakeAdapter{name: "kexp", docs: []sources.Document{doc(`{"a":1}`)}}
	gw := newTestGateway(t, adapter)

	db := openSharedMetaDB(t)
	meta, err := ingestlog.OpenMeta(db)
	require.NoError(t, err)
	gw.Cadence = &Cadence{Meta: meta, MinInterval: time.Minute, Bypass: true}

	first, skipped, err := gw.Run(context.Background())
	require.NoError(t, err)
	require.False(t, skipped)
	require.Len(t, first, 1)

	second, skipped, err := gw.Run(context.Background())
	require.NoError(t, err)
	require.False(t, skipped)
	require.Len(t, second, 1, "bypass should still produce an envelope (subject to dedup)")
}
