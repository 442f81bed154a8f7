package canonical

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Venue is a canonical live-music venue (§3.1).
//
// Identity key: Slug, derived from Name via Slugify. Slug must be stable
// under renormalization of the same Name.
type Venue struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	NameLower    string    `json:"name_lower"`
	Slug         string    `json:"slug"`
	Lat          *float64  `json:"lat,omitempty"`
	Lon          *float64  `json:"lon,omitempty"`
	Address      string    `json:"address,omitempty"`
	PostalCode   string    `json:"postal_code,omitempty"`
	City         string    `json:"city,omitempty"`
	VenueURL     string    `json:"venue_url,omitempty"`
	ImageURL     string    `json:"image_url,omitempty"`
	Description  string    `json:"description,omitempty"`
	Neighborhood string    `json:"neighborhood,omitempty"`
	ShowVenue    bool      `json:"show_venue"`
	CreatedAt    time.Time `json:"created_at"`
}

var ErrVenueNameRequired = errors.New("canonical: venue name is required")

// NewVenue builds a Venue with derived NameLower/Slug, defaulting ShowVenue
// to true (the teacher's moderation-queue convention: new rows are visible
// unless explicitly suppressed downstream).
func NewVenue(name string) (Venue, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Venue{}, ErrVenueNameRequired
	}
	slug := Slugify(name)
	if slug == "" {
		return Venue{}, fmt.Errorf("canonical: venue name %q has no sluggable characters", name)
	}
	return Venue{
		Name:      name,
		NameLower: NameLower(name),
		Slug:      slug,
		ShowVenue: true,
	}, nil
}

// Renormalize recomputes NameLower/Slug from Name in place, preserving the
// invariant that identical names always produce the identical slug.
func (v *Venue) Renormalize() {
	v.NameLower = NameLower(v.Name)
	v.Slug = Slugify(v.Name)
}
