package canonical

import "strings"

// Slugify produces a URL-safe, lowercased, collapsed-hyphen form of name,
// matching the stability requirement of §3.1: the same normalized name
// must always yield the same slug across runs.
func Slugify(name string) string {
	lower := strings.ToLower(strings.TrimSpace(name))
	b := make([]rune, 0, len(lower))
	lastHyphen := false
	for _, r := range lower {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b = append(b, r)
			lastHyphen = false
		default:
			if !lastHyphen && len(b) > 0 {
				b = append(b, '-')
				lastHyphen = true
			}
		}
	}
	out := strings.TrimRight(string(b), "-")
	return out
}

// NameLower lowercases a display name for the name_lower invariant fields.
func NameLower(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
