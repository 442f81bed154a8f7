package canonical

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event is a canonical live-music event (§3.1).
//
// Identity key: (VenueID, EventDay, lower(Title)). Invariants: VenueID must
// be set; every ArtistIDs[i] must be set and reference an Artist.
type Event struct {
	ID          uuid.UUID   `json:"id"`
	Title       string      `json:"title"`
	EventDay    EventDay    `json:"event_day"`
	StartTime   *time.Time  `json:"start_time,omitempty"`
	EventURL    string      `json:"event_url,omitempty"`
	Description string      `json:"description,omitempty"`
	ImageURL    string      `json:"image_url,omitempty"`
	VenueID     uuid.UUID   `json:"venue_id"`
	ArtistIDs   []uuid.UUID `json:"artist_ids,omitempty"`
	ShowEvent   bool        `json:"show_event"`
	Finalized   bool        `json:"finalized"`
	CreatedAt   time.Time   `json:"created_at"`
}

var (
	ErrEventTitleRequired = errors.New("canonical: event title is required")
	ErrEventVenueRequired = errors.New("canonical: event venue_id is required")
	ErrEventDayRequired   = errors.New("canonical: event_day is required")
	ErrEventArtistNil     = errors.New("canonical: event artist_ids must not contain a nil id")
)

// TitleLower is the lowercased title used in the identity key.
func (e Event) TitleLower() string { return strings.ToLower(strings.TrimSpace(e.Title)) }

// Key returns the tuple identity key (VenueID, EventDay, lower(Title)).
func (e Event) Key() (uuid.UUID, EventDay, string) {
	return e.VenueID, e.EventDay, e.TitleLower()
}

// Validate checks the structural invariants from §3.1.
func (e Event) Validate() error {
	if strings.TrimSpace(e.Title) == "" {
		return ErrEventTitleRequired
	}
	if e.VenueID == uuid.Nil {
		return ErrEventVenueRequired
	}
	if e.EventDay.IsZero() {
		return ErrEventDayRequired
	}
	for _, a := range e.ArtistIDs {
		if a == uuid.Nil {
			return ErrEventArtistNil
		}
	}
	return nil
}
