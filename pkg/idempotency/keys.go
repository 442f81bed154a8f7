package idempotency

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const (
	KeyVersion = "v1"

	MaxSourceIDLen = 64
	MaxScopeLen    = 32
	MaxKeyLen      = 256

	MaxParts = 32
	MaxBytes = 32 * 1024 // 32 KiB input cap for hashing
)

// Scopes partition the dedupe_index namespace so the same payload hash
// under two different operations never collides (§4.2, §4.7).
const (
	ScopeGatewayFetch   = "gateway.fetch"
	ScopeCatalogUpsert  = "catalog.upsert"
	ScopeConflationLink = "conflation.link"
)

var (
	ErrInvalidKey   = errors.New("idempotency: invalid key")
	ErrInputTooBig  = errors.New("idempotency: input too big")
	ErrInvalidScope = errors.New("idempotency: invalid scope")
)

// KeyParts is the parsed representation of a key.
type KeyParts struct {
	Version  string `json:"version"`
	SourceID string `json:"source_id"`
	Scope    string `json:"scope"`
	Hash     string `json:"hash"` // lowercase hex sha256
}

// BuildKey computes a deterministic key for a source+scope from ordered
// parts. The Gateway calls this as
// BuildKey(source_id, ScopeGatewayFetch, sha256(payload), canonicalRequest)
// to derive the dedupe_index key described in §4.2 step 4.
func BuildKey(sourceID, scope string, parts ...any) (string, error) {
	sourceID = normalizeSourceID(sourceID)
	scope, err := normalizeScope(scope)
	if err != nil {
		return "", err
	}
	if len(parts) > MaxParts {
		return "", ErrInputTooBig
	}
	b, err := encodeDeterministic(parts)
	if err != nil {
		return "", err
	}
	if len(b) > MaxBytes {
		return "", ErrInputTooBig
	}
	sum := sha256.Sum256(b)
	hash := hex.EncodeToString(sum[:])
	key := fmt.Sprintf("%s:%s:%s:%s", KeyVersion, sourceID, scope, hash)
	if len(key) > MaxKeyLen {
		return "", ErrInvalidKey
	}
	return key, nil
}

// BuildKeyFromMap computes a deterministic key from a map by sorting keys,
// useful when the canonical request is a set of named query/path params.
func BuildKeyFromMap(sourceID, scope string, m map[string]any) (string, error) {
	if m == nil {
		return BuildKey(sourceID, scope, nil)
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, strings.ToLower(strings.TrimSpace(k)))
	}
	sort.Strings(keys)
	parts := make([]any, 0, len(keys)*2)
	for _, k := range keys {
		if k == "" {
			continue
		}
		parts = append(parts, k)
		parts = append(parts, m[k])
	}
	return BuildKey(sourceID, scope, parts...)
}

// ParseKey parses "v1:<source_id>:<scope>:<sha256hex>".
func ParseKey(key string) (KeyParts, error) {
	key = strings.TrimSpace(key)
	if key == "" || len(key) > MaxKeyLen {
		return KeyParts{}, ErrInvalidKey
	}
	parts := strings.Split(key, ":")
	if len(parts) != 4 {
		return KeyParts{}, ErrInvalidKey
	}
	v := parts[0]
	sourceID := parts[1]
	scope := parts[2]
	hash := parts[3]

	if v != KeyVersion {
		return KeyParts{}, ErrInvalidKey
	}
	if err := validateSourceID(sourceID); err != nil {
		return KeyParts{}, err
	}
	nscope, err := normalizeScope(scope)
	if err != nil {
		return KeyParts{}, err
	}
	if hash == "" || len(hash) != 64 || !isLowerHex(hash) {
		return KeyParts{}, ErrInvalidKey
	}
	return KeyParts{Version: v, SourceID: sourceID, Scope: nscope, Hash: hash}, nil
}

// ValidateKey checks format and returns nil if valid.
func ValidateKey(key string) error {
	_, err := ParseKey(key)
	return err
}

// ---- normalization/validation ----

func normalizeSourceID(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	if t == "" {
		return "unknown"
	}
	if len(t) > MaxSourceIDLen {
		t = t[:MaxSourceIDLen]
	}
	out := make([]rune, 0, len(t))
	for _, r := range t {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		return "unknown"
	}
	return string(out)
}

func validateSourceID(t string) error {
	if t == "" || len(t) > MaxSourceIDLen {
		return ErrInvalidKey
	}
	for _, r := range t {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			continue
		}
		return ErrInvalidKey
	}
	return nil
}

func normalizeScope(s string) (string, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || len(s) > MaxScopeLen {
		return "", ErrInvalidScope
	}
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || r == '.' || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			continue
		}
		return "", ErrInvalidScope
	}
	return s, nil
}

func isLowerHex(s string) bool {
	for _, r := range s {
		if (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') {
			continue
		}
		return false
	}
	return true
}

// ---- deterministic encoder ----
//
// Avoids json.Marshal(map) nondeterminism by writing canonical JSON-like
// bytes: map keys sorted, slice order preserved, strings JSON-escaped.
// Intended for hashing, not user-facing serialization.

func encodeDeterministic(parts []any) ([]byte, error) {
	var buf bytes.Buffer
	if err := encAny(&buf, parts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encAny(buf *bytes.Buffer, v any) error {
	switch x := v.(type) {
	case nil:
		buf.WriteString("null")
		return nil
	case bool:
		if x {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case string:
		b, _ := json.Marshal(x)
		buf.Write(b)
		return nil
	case []byte:
		buf.WriteByte('"')
		buf.WriteString(hex.EncodeToString(x))
		buf.WriteByte('"')
		return nil
	case int:
		buf.WriteString(strconv.FormatInt(int64(x), 10))
		return nil
	case int64:
		buf.WriteString(strconv.FormatInt(x, 10))
		return nil
	case uint:
		buf.WriteString(strconv.FormatUint(uint64(x), 10))
		return nil
	case uint64:
		buf.WriteString(strconv.FormatUint(x, 10))
		return nil
	case float64:
		buf.WriteString(strconv.FormatFloat(x, 'g', -1, 64))
		return nil
	case json.Number:
		s := strings.TrimSpace(x.String())
		if s == "" {
			buf.WriteString("null")
			return nil
		}
		buf.WriteString(s)
		return nil
	case []any:
		buf.WriteByte('[')
		for i := 0; i < len(x); i++ {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encAny(buf, x[i]); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, strings.ToLower(strings.TrimSpace(k)))
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		first := true
		for _, k := range keys {
			if k == "" {
				continue
			}
			if !first {
				buf.WriteByte(',')
			}
			first = false
			kb, _ := json.Marshal(k)
			buf.Write(kb)
			buf.WriteByte(':')
			if err := encAny(buf, x[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case map[string]string:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, strings.ToLower(strings.TrimSpace(k)))
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			vb, _ := json.Marshal(x[k])
			buf.Write(kb)
			buf.WriteByte(':')
			buf.Write(vb)
		}
		buf.WriteByte('}')
		return nil
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil
	}
}
