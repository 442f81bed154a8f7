package normalize

import (
	"regexp"
	"strings"
)

// liveOnKEXPRe matches KEXP's "X LIVE on KEXP" title convention (§4.6).
var liveOnKEXPRe = regexp.MustCompile(`(?i)^(.*?)\s+live\s+on\s+kexp\b`)

// genericSepRe splits a title on the generic artist-list separators
// documented in §4.6: comma, ampersand, plus, slash, pipe.
var genericSepRe = regexp.MustCompile(`\s*[,&+/|]\s*`)

// splitterFor returns the artist-splitting convention for a source_id,
// falling back to the generic separator convention for sources with no
// documented quirk of their own.
func splitterFor(sourceID string) func(title string) ([]string, string) {
	switch sourceID {
	case "kexp":
		return splitArtistsKEXP
	default:
		return splitArtistsGeneric
	}
}

func splitArtistsKEXP(title string) ([]string, string) {
	if m := liveOnKEXPRe.FindStringSubmatch(title); len(m) == 2 {
		name := strings.TrimSpace(m[1])
		if name != "" {
			return []string{name}, "kexp_live_on"
		}
	}
	return splitArtistsGeneric(title)
}

func splitArtistsGeneric(title string) ([]string, string) {
	parts := genericSepRe.Split(title, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out, "generic_separator"
}
