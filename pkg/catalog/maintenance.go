package catalog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// ArtistLinkIssue reports an Event node whose artist_ids reference no
// performs_at edge — the generalized form of the teacher's
// diagnose-artist-links.rs, which hard-coded a single event/artist pair
// (§8 invariant 5: every artist_ids[i] must have a matching performs_at
// edge).
type ArtistLinkIssue struct {
	EventID           uuid.UUID
	MissingArtistIDs  []uuid.UUID
}

// CheckArtistLinks scans every event node and reports artist_ids with no
// corresponding performs_at edge (artist_id -> event_id).
func (s *Store) CheckArtistLinks(ctx context.Context) ([]ArtistLinkIssue, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, data FROM nodes WHERE kind = ?`, string(KindEvent))
	if err != nil {
		return nil, fmt.Errorf("catalog: check artist links: query events: %w", err)
	}
	defer rows.Close()

	var issues []ArtistLinkIssue
	for rows.Next() {
		var idStr, data string
		if err := rows.Scan(&idStr, &data); err != nil {
			return nil, fmt.Errorf("catalog: check artist links: scan: %w", err)
		}
		eventID, err := uuid.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("catalog: check artist links: parse event id: %w", err)
		}

		var fields struct {
			ArtistIDs []uuid.UUID `json:"artist_ids"`
		}
		if err := json.Unmarshal([]byte(data), &fields); err != nil {
			return nil, fmt.Errorf("catalog: check artist links: decode event %s: %w", idStr, err)
		}
		if len(fields.ArtistIDs) == 0 {
			continue
		}

		linked, err := s.linkedArtistIDs(ctx, eventID)
		if err != nil {
			return nil, err
		}

		var missing []uuid.UUID
		for _, aid := range fields.ArtistIDs {
			if !linked[aid] {
				missing = append(missing, aid)
			}
		}
		if len(missing) > 0 {
			issues = append(issues, ArtistLinkIssue{EventID: eventID, MissingArtistIDs: missing})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: check artist links: rows: %w", err)
	}
	return issues, nil
}

func (s *Store) linkedArtistIDs(ctx context.Context, eventID uuid.UUID) (map[uuid.UUID]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source_id FROM edges WHERE target_id = ? AND relation = ?`,
		eventID.String(), string(RelationPerformsAt))
	if err != nil {
		return nil, fmt.Errorf("catalog: check artist links: query edges: %w", err)
	}
	defer rows.Close()

	linked := make(map[uuid.UUID]bool)
	for rows.Next() {
		var sourceID string
		if err := rows.Scan(&sourceID); err != nil {
			return nil, fmt.Errorf("catalog: check artist links: scan edge: %w", err)
		}
		id, err := uuid.Parse(sourceID)
		if err != nil {
			continue
		}
		linked[id] = true
	}
	return linked, rows.Err()
}

// Reset wipes every catalog table. Test-harness only — matches the
// teacher's clear-database.rs, never exposed as a production CLI verb
// (§3.4 keeps deletion explicit/venue-cascade-only in production).
func (s *Store) Reset(ctx context.Context) error {
	for _, table := range []string{"edges", "event_keys", "process_records", "process_runs", "nodes"} {
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", table)); err != nil {
			return fmt.Errorf("catalog: reset %s: %w", table, err)
		}
	}
	return nil
}
