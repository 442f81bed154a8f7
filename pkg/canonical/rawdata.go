package canonical

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RawData holds each input document prior to processing (§3.1). Processed
// flips monotonically false -> true once catalog persistence of its
// derived entities completes.
type RawData struct {
	ID          uuid.UUID       `json:"id"`
	APIName     string          `json:"api_name"`
	EventAPIID  string          `json:"event_api_id"`
	EventName   string          `json:"event_name"`
	VenueName   string          `json:"venue_name"`
	EventDay    EventDay        `json:"event_day"`
	Data        json.RawMessage `json:"data"`
	Processed   bool            `json:"processed"`
	EventID     *uuid.UUID      `json:"event_id,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// MarkProcessed flips Processed to true and records the derived event id.
// It is a no-op (not an error) if already processed, matching the
// monotone Unprocessed -> Processed state machine of §9.
func (r *RawData) MarkProcessed(eventID uuid.UUID) {
	if r.Processed {
		return
	}
	r.Processed = true
	id := eventID
	r.EventID = &id
}
