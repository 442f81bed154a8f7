package canonical

import (
	"time"

	"github.com/google/uuid"
)

// ChangeType enumerates the kinds of observations a ProcessRecord can log.
type ChangeType string

const (
	ChangeCreated    ChangeType = "created"
	ChangeUpdated    ChangeType = "updated"
	ChangeNoChange   ChangeType = "no_change"
	ChangeQuarantine ChangeType = "quarantine"
	ChangeConflict   ChangeType = "conflict"
)

// ProcessRun is a catalog-writing session (§3.1, §9 state machine
// Open -> Closed).
type ProcessRun struct {
	ID         uuid.UUID  `json:"id"`
	Name       string     `json:"name"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Open reports whether the run has not yet been finished.
func (r ProcessRun) Open() bool { return r.FinishedAt == nil }

// ProcessRecord is a single observation or change made during a run
// (§3.1).
type ProcessRecord struct {
	ID            uuid.UUID  `json:"id"`
	ProcessRunID  uuid.UUID  `json:"process_run_id"`
	APIName       string     `json:"api_name"`
	RawDataID     *uuid.UUID `json:"raw_data_id,omitempty"`
	ChangeType    ChangeType `json:"change_type"`
	ChangeLog     string     `json:"change_log,omitempty"`
	FieldChanged  string     `json:"field_changed,omitempty"`
	EventID       *uuid.UUID `json:"event_id,omitempty"`
	VenueID       *uuid.UUID `json:"venue_id,omitempty"`
	ArtistID      *uuid.UUID `json:"artist_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}
