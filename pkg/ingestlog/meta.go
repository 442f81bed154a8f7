package ingestlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Meta is the sidecar KV alongside the ingest log (§6 "meta.db"), backed by
// mattn/go-sqlite3 the same way the control-plane aggregator keeps local
// state. It owns consumer_offsets and fetch_cadence; dedupe_index lives in
// pkg/idempotency.SQLiteStore against the same *sql.DB.
type Meta struct {
	db *sql.DB
}

func OpenMeta(db *sql.DB) (*Meta, error) {
	const schema = `
CREATE TABLE IF NOT EXISTS consumer_offsets (
	consumer     TEXT PRIMARY KEY,
	file         TEXT NOT NULL,
	byte_offset  INTEGER NOT NULL,
	envelope_id  TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS fetch_cadence (
	source_id       TEXT PRIMARY KEY,
	last_fetched_at TEXT NOT NULL
);`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("ingestlog: migrate meta.db: %w", err)
	}
	return &Meta{db: db}, nil
}

// Offset is a consumer's committed cursor into the log.
type Offset struct {
	File       string
	ByteOffset int64
	EnvelopeID string
}

// CommitOffset advances a consumer's cursor. Offsets only move forward;
// callers must call this only after downstream effects for the given
// position are committed (§4.3 "advance only after ... committed").
func (m *Meta) CommitOffset(ctx context.Context, consumer string, off Offset) error {
	_, err := m.db.ExecContext(ctx,
		`INSERT INTO consumer_offsets (consumer, file, byte_offset, envelope_id) VALUES (?,?,?,?)
		 ON CONFLICT(consumer) DO UPDATE SET file=excluded.file, byte_offset=excluded.byte_offset, envelope_id=excluded.envelope_id`,
		consumer, off.File, off.ByteOffset, off.EnvelopeID)
	return err
}

// GetOffset returns the last committed cursor for a consumer, or ok=false
// if the consumer has never committed (read from the start of the log).
func (m *Meta) GetOffset(ctx context.Context, consumer string) (Offset, bool, error) {
	var off Offset
	err := m.db.QueryRowContext(ctx,
		`SELECT file, byte_offset, envelope_id FROM consumer_offsets WHERE consumer=?`, consumer).
		Scan(&off.File, &off.ByteOffset, &off.EnvelopeID)
	if errors.Is(err, sql.ErrNoRows) {
		return Offset{}, false, nil
	}
	if err != nil {
		return Offset{}, false, err
	}
	return off, true, nil
}

// LastFetchedAt returns the recorded cadence timestamp for a source, or
// ok=false if the source has never been fetched.
func (m *Meta) LastFetchedAt(ctx context.Context, sourceID string) (time.Time, bool, error) {
	var ts string
	err := m.db.QueryRowContext(ctx,
		`SELECT last_fetched_at FROM fetch_cadence WHERE source_id=?`, sourceID).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

// SetLastFetchedAt records the cadence timestamp for a source (§4.2 step 7,
// "update last_fetched_at ... atomically after append succeeds").
func (m *Meta) SetLastFetchedAt(ctx context.Context, sourceID string, at time.Time) error {
	_, err := m.db.ExecContext(ctx,
		`INSERT INTO fetch_cadence (source_id, last_fetched_at) VALUES (?,?)
		 ON CONFLICT(source_id) DO UPDATE SET last_fetched_at=excluded.last_fetched_at`,
		sourceID, at.UTC().Format(time.RFC3339Nano))
	return err
}
