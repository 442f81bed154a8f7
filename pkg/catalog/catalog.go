// Package catalog persists ConflatedRecords as node/edge writes within a
// ProcessRun (§4.10). The upsert-with-idempotency-check pattern (`INSERT
// ... ON CONFLICT(id) DO UPDATE`, preserving created_at, skipping the
// write entirely when incoming data is byte-equal to what is stored) is
// grounded on the teacher's
// services/storage/internal/relational/postgres_store.go Put, ported
// from Postgres `$N` placeholders to the `?`-style placeholders used
// elsewhere in this pipeline's sqlite/libsql stores (pkg/idempotency's
// SQLiteStore).
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sms-collective/sms-pipeline/pkg/canonical"
	"github.com/sms-collective/sms-pipeline/pkg/conflation"
	"github.com/sms-collective/sms-pipeline/pkg/normalize"
)

var (
	ErrMissingVenue = errors.New("catalog: event record has no resolved venue")
	ErrUnknownKind  = errors.New("catalog: unknown node kind")
)

// NodeKind is the catalog's discriminator for the graph-shaped nodes
// table (§3.3).
type NodeKind string

const (
	KindVenue  NodeKind = "venue"
	KindArtist NodeKind = "artist"
	KindEvent  NodeKind = "event"
)

// Relation names the edge kinds of §4.10.
type Relation string

const (
	RelationHosts     Relation = "hosts"
	RelationPerformsAt Relation = "performs_at"
	RelationHasRecord Relation = "has_record"
)

const schema = `
CREATE TABLE IF NOT EXISTS nodes (
	id         TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	data       TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS edges (
	source_id  TEXT NOT NULL,
	target_id  TEXT NOT NULL,
	relation   TEXT NOT NULL,
	created_at TEXT NOT NULL,
	UNIQUE(source_id, target_id, relation)
);
CREATE TABLE IF NOT EXISTS event_keys (
	venue_id    TEXT NOT NULL,
	event_day   TEXT NOT NULL,
	title_lower TEXT NOT NULL,
	event_id    TEXT NOT NULL,
	PRIMARY KEY (venue_id, event_day, title_lower)
);
CREATE TABLE IF NOT EXISTS process_runs (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	created_at  TEXT NOT NULL,
	finished_at TEXT
);
CREATE TABLE IF NOT EXISTS process_records (
	id             TEXT PRIMARY KEY,
	process_run_id TEXT NOT NULL,
	api_name       TEXT NOT NULL,
	raw_data_id    TEXT,
	change_type    TEXT NOT NULL,
	change_log     TEXT,
	field_changed  TEXT,
	event_id       TEXT,
	venue_id       TEXT,
	artist_id      TEXT,
	created_at     TEXT NOT NULL
);
`

// Store is the catalog's sqlite/libsql-backed persistence layer.
type Store struct {
	db    *sql.DB
	clock func() time.Time
}

// Open migrates the schema on db (expected to already be opened against a
// libsql/sqlite driver) and returns a ready Store.
func Open(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("catalog: db is nil")
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("catalog: migrate schema: %w", err)
	}
	return &Store{db: db, clock: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *Store) now() time.Time { return s.clock() }

func tfmt(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func tparse(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t.UTC()
}

// StartRun creates a ProcessRun node and returns it (§4.10 step 1).
func (s *Store) StartRun(ctx context.Context, name string) (canonical.ProcessRun, error) {
	run := canonical.ProcessRun{ID: uuid.New(), Name: name, CreatedAt: s.now()}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO process_runs (id, name, created_at, finished_at) VALUES (?, ?, ?, NULL)`,
		run.ID.String(), run.Name, tfmt(run.CreatedAt))
	if err != nil {
		return canonical.ProcessRun{}, fmt.Errorf("catalog: start run: %w", err)
	}
	return run, nil
}

// FinishRun stamps finished_at on the run (§4.10 step 3).
func (s *Store) FinishRun(ctx context.Context, runID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE process_runs SET finished_at = ? WHERE id = ?`,
		tfmt(s.now()), runID.String())
	if err != nil {
		return fmt.Errorf("catalog: finish run: %w", err)
	}
	return nil
}

// upsertNode writes id/kind/data, preserving created_at, and reports the
// ChangeType that resulted: created, updated, or no_change when the
// incoming data is byte-equal to what is already stored (§4.10 "Upsert
// node" + "Idempotency check").
func (s *Store) upsertNode(ctx context.Context, id uuid.UUID, kind NodeKind, data []byte) (canonical.ChangeType, error) {
	var existing string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM nodes WHERE id = ?`, id.String()).Scan(&existing)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		now := tfmt(s.now())
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO nodes (id, kind, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
			id.String(), string(kind), string(data), now, now)
		if err != nil {
			return "", fmt.Errorf("catalog: insert node: %w", err)
		}
		return canonical.ChangeCreated, nil
	case err != nil:
		return "", fmt.Errorf("catalog: read node: %w", err)
	}

	if existing == string(data) {
		return canonical.ChangeNoChange, nil
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE nodes SET data = ?, updated_at = ? WHERE id = ?`,
		string(data), tfmt(s.now()), id.String())
	if err != nil {
		return "", fmt.Errorf("catalog: update node: %w", err)
	}
	return canonical.ChangeUpdated, nil
}

// upsertEdge inserts (source, target, relation), tolerating the
// already-exists case via ON CONFLICT ... DO NOTHING (§4.10 "unique on
// (source_id, target_id, relation)"; §4.10 "stale edges are tolerated;
// uniqueness prevents duplicates").
func (s *Store) upsertEdge(ctx context.Context, sourceID, targetID uuid.UUID, relation Relation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO edges (source_id, target_id, relation, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(source_id, target_id, relation) DO NOTHING`,
		sourceID.String(), targetID.String(), string(relation), tfmt(s.now()))
	if err != nil {
		return fmt.Errorf("catalog: upsert edge: %w", err)
	}
	return nil
}

// resolveEventID looks up the event tie-break key (venue_id, event_day,
// lower(title)); mints and records a new ID on first sight (§4.10
// "Tie-breaks").
func (s *Store) resolveEventID(ctx context.Context, venueID uuid.UUID, day canonical.EventDay, titleLower string) (uuid.UUID, bool, error) {
	var existing string
	err := s.db.QueryRowContext(ctx,
		`SELECT event_id FROM event_keys WHERE venue_id = ? AND event_day = ? AND title_lower = ?`,
		venueID.String(), day.String(), titleLower).Scan(&existing)
	if err == nil {
		id, perr := uuid.Parse(existing)
		return id, false, perr
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, false, fmt.Errorf("catalog: resolve event id: %w", err)
	}

	id := uuid.New()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO event_keys (venue_id, event_day, title_lower, event_id) VALUES (?, ?, ?, ?)`,
		venueID.String(), day.String(), titleLower, id.String())
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("catalog: record event id: %w", err)
	}
	return id, true, nil
}

// WriteRecord dispatches a ConflatedRecord to its entity handler and
// returns the ProcessRecord describing what happened (§4.10 step 2). The
// ProcessRecord is persisted and linked to runID by its has_record edge
// here (via finalizeRecord); the caller does not append that edge.
func (s *Store) WriteRecord(ctx context.Context, runID uuid.UUID, rec conflation.ConflatedRecord) (canonical.ProcessRecord, error) {
	var pr canonical.ProcessRecord
	var err error

	switch rec.Entity {
	case normalize.EntityVenue:
		pr, err = s.writeVenue(ctx, rec)
	case normalize.EntityArtist:
		pr, err = s.writeArtist(ctx, rec)
	case normalize.EntityEvent:
		pr, err = s.writeEvent(ctx, rec)
	default:
		return canonical.ProcessRecord{}, fmt.Errorf("%w: %s", ErrUnknownKind, rec.Entity)
	}
	if err != nil {
		return canonical.ProcessRecord{}, err
	}

	pr.APIName = rec.Provenance.SourceID
	return s.finalizeRecord(ctx, runID, pr)
}

// WriteQuarantineRecord appends a quarantine ProcessRecord with no
// corresponding node/edge write — the Quality Gate rejected the record
// before it ever reached Catalog (§4.7, §4.10 step 2 "no Event node
// created").
func (s *Store) WriteQuarantineRecord(ctx context.Context, runID uuid.UUID, pr canonical.ProcessRecord) (canonical.ProcessRecord, error) {
	return s.finalizeRecord(ctx, runID, pr)
}

// finalizeRecord stamps and inserts pr, then links it to its run via a
// has_record edge (§4.10 step 2).
func (s *Store) finalizeRecord(ctx context.Context, runID uuid.UUID, pr canonical.ProcessRecord) (canonical.ProcessRecord, error) {
	pr.ID = uuid.New()
	pr.ProcessRunID = runID
	pr.CreatedAt = s.now()

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO process_records
		   (id, process_run_id, api_name, raw_data_id, change_type, change_log, field_changed, event_id, venue_id, artist_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		pr.ID.String(), pr.ProcessRunID.String(), pr.APIName, nullableUUID(pr.RawDataID),
		string(pr.ChangeType), pr.ChangeLog, pr.FieldChanged,
		nullableUUID(pr.EventID), nullableUUID(pr.VenueID), nullableUUID(pr.ArtistID),
		tfmt(pr.CreatedAt)); err != nil {
		return canonical.ProcessRecord{}, fmt.Errorf("catalog: insert process_record: %w", err)
	}

	if err := s.upsertEdge(ctx, runID, pr.ID, RelationHasRecord); err != nil {
		return canonical.ProcessRecord{}, err
	}

	return pr, nil
}

// VenueSeed and ArtistSeed are the minimal (name, id) pairs Conflation
// needs to seed its resolver from prior runs (§4.9 step 2, "seeded from
// the catalog at run start").
type VenueSeed struct {
	Name string
	ID   uuid.UUID
}

type ArtistSeed struct {
	Name string
	ID   uuid.UUID
}

// LoadVenueSeeds lists every venue node's (name, id), for Conflation's
// resolver to seed against before a run starts.
func (s *Store) LoadVenueSeeds(ctx context.Context) ([]VenueSeed, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, data FROM nodes WHERE kind = ?`, string(KindVenue))
	if err != nil {
		return nil, fmt.Errorf("catalog: load venue seeds: %w", err)
	}
	defer rows.Close()

	var seeds []VenueSeed
	for rows.Next() {
		var idStr, data string
		if err := rows.Scan(&idStr, &data); err != nil {
			return nil, fmt.Errorf("catalog: load venue seeds: scan: %w", err)
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			continue
		}
		var v canonical.Venue
		if err := json.Unmarshal([]byte(data), &v); err != nil {
			continue
		}
		seeds = append(seeds, VenueSeed{Name: v.Name, ID: id})
	}
	return seeds, rows.Err()
}

// LoadArtistSeeds lists every artist node's (name, id), mirroring
// LoadVenueSeeds.
func (s *Store) LoadArtistSeeds(ctx context.Context) ([]ArtistSeed, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, data FROM nodes WHERE kind = ?`, string(KindArtist))
	if err != nil {
		return nil, fmt.Errorf("catalog: load artist seeds: %w", err)
	}
	defer rows.Close()

	var seeds []ArtistSeed
	for rows.Next() {
		var idStr, data string
		if err := rows.Scan(&idStr, &data); err != nil {
			return nil, fmt.Errorf("catalog: load artist seeds: scan: %w", err)
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			continue
		}
		var a canonical.Artist
		if err := json.Unmarshal([]byte(data), &a); err != nil {
			continue
		}
		seeds = append(seeds, ArtistSeed{Name: a.Name, ID: id})
	}
	return seeds, rows.Err()
}

func nullableUUID(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}

func (s *Store) writeVenue(ctx context.Context, rec conflation.ConflatedRecord) (canonical.ProcessRecord, error) {
	v := rec.Venue
	id := rec.CanonicalEntityID
	canon := canonical.Venue{
		ID:           id,
		Name:         v.Name,
		NameLower:    v.NameLower,
		Slug:         v.Slug,
		City:         rec.City,
		Neighborhood: rec.Neighborhood,
		ShowVenue:    true,
	}
	data, err := json.Marshal(canon)
	if err != nil {
		return canonical.ProcessRecord{}, err
	}
	changeType, err := s.upsertNode(ctx, id, KindVenue, data)
	if err != nil {
		return canonical.ProcessRecord{}, err
	}
	return canonical.ProcessRecord{ChangeType: changeType, VenueID: &id}, nil
}

func (s *Store) writeArtist(ctx context.Context, rec conflation.ConflatedRecord) (canonical.ProcessRecord, error) {
	a := rec.Artist
	id := rec.CanonicalEntityID
	canon := canonical.Artist{ID: id, Name: a.Name, NameSlug: a.NameSlug}
	data, err := json.Marshal(canon)
	if err != nil {
		return canonical.ProcessRecord{}, err
	}
	changeType, err := s.upsertNode(ctx, id, KindArtist, data)
	if err != nil {
		return canonical.ProcessRecord{}, err
	}
	return canonical.ProcessRecord{ChangeType: changeType, ArtistID: &id}, nil
}

// writeEvent implements §4.10's "Ensure Venue exists -> each Artist
// exists -> write Event node -> edges" ordering for one event. Venue and
// Artists are assumed already written earlier in the same run (Normalize
// emits them first; Conflation carries their IDs forward) — writeEvent
// only re-touches them through the hosts/performs_at edges, not by
// rewriting their nodes.
func (s *Store) writeEvent(ctx context.Context, rec conflation.ConflatedRecord) (canonical.ProcessRecord, error) {
	ev := rec.Event
	if rec.ResolvedVenueID == uuid.Nil {
		return canonical.ProcessRecord{}, ErrMissingVenue
	}

	titleLower := strings.ToLower(strings.TrimSpace(ev.Title))
	eventID, _, err := s.resolveEventID(ctx, rec.ResolvedVenueID, ev.EventDay, titleLower)
	if err != nil {
		return canonical.ProcessRecord{}, err
	}

	canon := canonical.Event{
		ID:          eventID,
		Title:       ev.Title,
		EventDay:    ev.EventDay,
		StartTime:   ev.StartTime,
		EventURL:    ev.EventURL,
		Description: ev.Description,
		ImageURL:    ev.ImageURL,
		VenueID:     rec.ResolvedVenueID,
		ArtistIDs:   rec.ResolvedArtistIDs,
		ShowEvent:   true,
	}
	data, err := json.Marshal(canon)
	if err != nil {
		return canonical.ProcessRecord{}, err
	}
	changeType, err := s.upsertNode(ctx, eventID, KindEvent, data)
	if err != nil {
		return canonical.ProcessRecord{}, err
	}

	if err := s.upsertEdge(ctx, rec.ResolvedVenueID, eventID, RelationHosts); err != nil {
		return canonical.ProcessRecord{}, err
	}
	for _, artistID := range rec.ResolvedArtistIDs {
		if artistID == uuid.Nil {
			continue
		}
		if err := s.upsertEdge(ctx, artistID, eventID, RelationPerformsAt); err != nil {
			return canonical.ProcessRecord{}, err
		}
	}

	return canonical.ProcessRecord{ChangeType: changeType, EventID: &eventID, VenueID: &rec.ResolvedVenueID}, nil
}
