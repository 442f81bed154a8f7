package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Loader loads this pipeline's root config from a filesystem root with
// deterministic layering.
//
// Conventions:
//   <root>/<service>.json|yaml|yml
//   <root>/env/<env>/<service>.json|yaml|yml
//   <root>/tenants/<tenant>/<service>.json|yaml|yml
//
// Merge order (deterministic, later layers win): base -> env -> tenant.
// internal/config applies its own plain (unprefixed) environment-variable
// overlay on top of the merged result, so this loader only concerns itself
// with file layering, not an env-var-override convention of its own.
//
// YAML files are first decoded as strict JSON (JSON-as-YAML); a document
// that is not valid JSON falls through to yaml.Unmarshal, and only a file
// that neither decoder accepts is rejected with ErrUnsupportedYAML.
type Options struct {
	Service string // required (e.g. "pipeline")
	Env     string // optional (e.g. "local", "dev", "prod")
	Tenant  string // optional tenant id

	MaxFiles     int   // default 8
	MaxFileBytes int64 // default 2 MiB
	MaxDepth     int   // default 32
}

type Loader struct {
	rootAbs string
	opts    Options

	reTenant *regexp.Regexp
}

type Document struct {
	Path     string         `json:"path"`      // rel path (slash)
	Tier     string         `json:"tier"`      // base|env|tenant
	LoadedAt time.Time      `json:"loaded_at"` // UTC
	SHA256   string         `json:"sha256"`    // raw bytes hash
	Data     map[string]any `json:"data"`      // parsed object
}

type Bundle struct {
	Service string `json:"service"`
	Env     string `json:"env,omitempty"`
	Tenant  string `json:"tenant,omitempty"`

	Docs     []Document     `json:"docs"`
	Merged   map[string]any `json:"merged"`
	LoadedAt time.Time      `json:"loaded_at"`
}

var (
	ErrInvalidRoot     = errors.New("config: invalid root")
	ErrInvalidOptions  = errors.New("config: invalid options")
	ErrPathEscape      = errors.New("config: path escapes root")
	ErrNotFound        = errors.New("config: not found")
	ErrTooManyFiles    = errors.New("config: too many files")
	ErrFileTooLarge    = errors.New("config: file too large")
	ErrUnsupportedExt  = errors.New("config: unsupported extension")
	ErrInvalidJSON     = errors.New("config: invalid json")
	ErrNotObject       = errors.New("config: top-level must be object")
	ErrUnsupportedYAML = errors.New("config: yaml unsupported (v0 only supports json-as-yaml or plain maps)")
)

func NewLoader(root string, opts Options) (*Loader, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, ErrInvalidRoot
	}
	opts.Service = strings.TrimSpace(opts.Service)
	if opts.Service == "" {
		return nil, fmt.Errorf("%w: service required", ErrInvalidOptions)
	}
	opts.Env = strings.TrimSpace(opts.Env)
	opts.Tenant = strings.TrimSpace(opts.Tenant)

	if opts.MaxFiles <= 0 {
		opts.MaxFiles = 8
	}
	if opts.MaxFileBytes <= 0 {
		opts.MaxFileBytes = 2 * 1024 * 1024
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = 32
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRoot, err)
	}
	absEval, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRoot, err)
	}
	info, err := os.Stat(absEval)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: not a directory", ErrInvalidRoot)
	}

	reTenant := regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,62}$`)
	if opts.Tenant != "" && !reTenant.MatchString(opts.Tenant) {
		return nil, fmt.Errorf("%w: invalid tenant %q", ErrInvalidOptions, opts.Tenant)
	}

	return &Loader{rootAbs: absEval, opts: opts, reTenant: reTenant}, nil
}

// Load loads the base/env/tenant tiers that exist under root and merges
// them, later tiers winning.
func (l *Loader) Load(ctx context.Context) (*Bundle, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	var docs []Document
	merged := map[string]any{}

	tiers := l.computeTierPaths()
	if len(tiers) > l.opts.MaxFiles {
		return nil, ErrTooManyFiles
	}
	for _, tp := range tiers {
		doc, err := l.loadAnyPath(ctx, tp.path, tp.tier)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		docs = append(docs, *doc)
		merged = deepMergeDeterministic(merged, doc.Data, l.opts.MaxDepth)
	}

	sort.SliceStable(docs, func(i, j int) bool {
		if docs[i].Tier != docs[j].Tier {
			return tierRank(docs[i].Tier) < tierRank(docs[j].Tier)
		}
		return docs[i].Path < docs[j].Path
	})

	return &Bundle{
		Service:  l.opts.Service,
		Env:      l.opts.Env,
		Tenant:   l.opts.Tenant,
		Docs:     docs,
		Merged:   merged,
		LoadedAt: time.Now().UTC(),
	}, nil
}

type tierPath struct {
	tier string
	path string
}

func (l *Loader) computeTierPaths() []tierPath {
	cands := []string{
		l.opts.Service + ".json",
		l.opts.Service + ".yaml",
		l.opts.Service + ".yml",
	}
	var out []tierPath
	for _, c := range cands {
		out = append(out, tierPath{tier: "base", path: c})
	}
	if l.opts.Env != "" {
		for _, c := range cands {
			out = append(out, tierPath{tier: "env", path: filepath.Join("env", l.opts.Env, c)})
		}
	}
	if l.opts.Tenant != "" {
		for _, c := range cands {
			out = append(out, tierPath{tier: "tenant", path: filepath.Join("tenants", l.opts.Tenant, c)})
		}
	}
	return out
}

func tierRank(tier string) int {
	switch tier {
	case "base":
		return 1
	case "env":
		return 2
	case "tenant":
		return 3
	default:
		return 9
	}
}

func (l *Loader) loadAnyPath(ctx context.Context, relPath string, tier string) (*Document, error) {
	abs, rel, err := l.safeJoin(relPath)
	if err != nil {
		return nil, err
	}
	doc, err := l.readDoc(ctx, abs, tier)
	if err != nil {
		return nil, err
	}
	doc.Path = rel
	return &doc, nil
}

func (l *Loader) safeJoin(relPath string) (abs string, rel string, err error) {
	relPath = strings.TrimSpace(relPath)
	if relPath == "" {
		return "", "", ErrNotFound
	}
	relClean := filepath.Clean(relPath)
	if filepath.IsAbs(relClean) {
		return "", "", ErrPathEscape
	}
	if relClean == ".." || strings.HasPrefix(relClean, ".."+string(os.PathSeparator)) {
		return "", "", ErrPathEscape
	}

	abs = filepath.Join(l.rootAbs, relClean)
	absEval, e := filepath.EvalSymlinks(abs)
	if e != nil {
		if errors.Is(e, fs.ErrNotExist) {
			return "", "", ErrNotFound
		}
		return "", "", e
	}
	if !withinRoot(l.rootAbs, absEval) {
		return "", "", ErrPathEscape
	}
	rel = relSlash(l.rootAbs, absEval)
	return absEval, rel, nil
}

func withinRoot(rootAbs, targetAbs string) bool {
	root := strings.ToLower(filepath.Clean(rootAbs))
	tgt := strings.ToLower(filepath.Clean(targetAbs))
	if tgt == root {
		return true
	}
	sep := strings.ToLower(string(os.PathSeparator))
	if !strings.HasSuffix(root, sep) {
		root += sep
	}
	return strings.HasPrefix(tgt, root)
}

func relSlash(rootAbs, abs string) string {
	rel, err := filepath.Rel(rootAbs, abs)
	if err != nil {
		rel = abs
	}
	rel = filepath.Clean(rel)
	rel = filepath.ToSlash(rel)
	rel = strings.TrimPrefix(rel, "./")
	return rel
}

func (l *Loader) readDoc(ctx context.Context, absPath string, tier string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}

	fi, err := os.Stat(absPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Document{}, ErrNotFound
		}
		return Document{}, err
	}
	if fi.Size() > l.opts.MaxFileBytes {
		return Document{}, ErrFileTooLarge
	}

	f, err := os.Open(absPath)
	if err != nil {
		return Document{}, err
	}
	defer f.Close()

	lr := &io.LimitedReader{R: f, N: l.opts.MaxFileBytes + 1}
	raw := make([]byte, 0, minInt64(l.opts.MaxFileBytes, 64*1024))
	buf := make([]byte, 32*1024)

	for {
		if err := ctx.Err(); err != nil {
			return Document{}, err
		}
		n, rerr := lr.Read(buf)
		if n > 0 {
			raw = append(raw, buf[:n]...)
			if int64(len(raw)) > l.opts.MaxFileBytes {
				return Document{}, ErrFileTooLarge
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				break
			}
			return Document{}, rerr
		}
	}

	sum := sha256.Sum256(raw)
	sha := hex.EncodeToString(sum[:])

	ext := strings.ToLower(filepath.Ext(absPath))
	var obj map[string]any

	switch ext {
	case ".json":
		if err := decodeStrictJSON(raw, &obj); err != nil {
			return Document{}, err
		}
	case ".yaml", ".yml":
		trimmed := bytesTrimBOM(raw)
		if err := decodeStrictJSON(trimmed, &obj); err != nil {
			var y map[string]any
			if yerr := yaml.Unmarshal(trimmed, &y); yerr != nil {
				return Document{}, ErrUnsupportedYAML
			}
			obj = normalizeYAMLMap(y)
		}
	default:
		return Document{}, ErrUnsupportedExt
	}

	return Document{
		Tier:     tier,
		LoadedAt: time.Now().UTC(),
		SHA256:   sha,
		Data:     obj,
	}, nil
}

// normalizeYAMLMap walks a yaml.v3-decoded map and recursively converts any
// nested map[string]interface{} so the result matches decodeStrictJSON's
// shape closely enough for the rest of the loader's merge logic to treat
// both sources uniformly.
func normalizeYAMLMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalizeYAMLValue(v)
	}
	return out
}

func normalizeYAMLValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return normalizeYAMLMap(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = normalizeYAMLValue(e)
		}
		return out
	default:
		return v
	}
}

func decodeStrictJSON(b []byte, out *map[string]any) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	var extra any
	if err := dec.Decode(&extra); err != io.EOF {
		return fmt.Errorf("%w: trailing tokens", ErrInvalidJSON)
	}

	m, ok := v.(map[string]any)
	if !ok {
		return ErrNotObject
	}
	*out = m
	return nil
}

func bytesTrimBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		return b[3:]
	}
	return b
}

// ---- deterministic merge ----
//
// Folded in from this package's generic merge helpers: only the plain
// map-recursion case this loader's layering actually needs (later tier
// wins; non-map values and type conflicts simply replace).

func deepMergeDeterministic(dst, src map[string]any, maxDepth int) map[string]any {
	return deepMergeDeterministicDepth(dst, src, 0, maxDepth)
}

func deepMergeDeterministicDepth(dst, src map[string]any, depth int, maxDepth int) map[string]any {
	if maxDepth > 0 && depth > maxDepth {
		return src
	}
	if dst == nil {
		dst = map[string]any{}
	}
	if src == nil {
		return dst
	}

	out := make(map[string]any, len(dst))
	for k, v := range dst {
		out[k] = v
	}

	keys := make([]string, 0, len(src))
	for k := range src {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		sv := src[k]
		if dv, ok := out[k]; ok {
			dm, dok := dv.(map[string]any)
			sm, sok := sv.(map[string]any)
			if dok && sok {
				out[k] = deepMergeDeterministicDepth(dm, sm, depth+1, maxDepth)
				continue
			}
		}
		out[k] = sv
	}
	return out
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
