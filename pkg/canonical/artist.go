package canonical

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Artist is a canonical performer (§3.1). Identity key: NameSlug.
type Artist struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	NameSlug  string    `json:"name_slug"`
	Bio       string    `json:"bio,omitempty"`
	ImageURL  string    `json:"image_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

var ErrArtistNameRequired = errors.New("canonical: artist name is required")

// NewArtist builds an Artist with a derived, URL-safe, collapsed-hyphen,
// non-empty NameSlug.
func NewArtist(name string) (Artist, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Artist{}, ErrArtistNameRequired
	}
	slug := Slugify(name)
	if slug == "" {
		return Artist{}, fmt.Errorf("canonical: artist name %q has no sluggable characters", name)
	}
	return Artist{Name: name, NameSlug: slug}, nil
}
