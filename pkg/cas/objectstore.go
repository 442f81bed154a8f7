package cas

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ObjectStoreOptions configures the Supabase Storage-backed CAS backend
// (§6 env vars: SUPABASE_URL/SUPABASE_PROJECT_REF, SUPABASE_SERVICE_ROLE_KEY,
// SUPABASE_BUCKET, SUPABASE_PREFIX).
type ObjectStoreOptions struct {
	BaseURL        string // e.g. https://<project-ref>.supabase.co
	ServiceRoleKey string
	Bucket         string
	Prefix         string
	HTTPTimeout    time.Duration
	MaxBodyBytes   int64
}

// ObjectStore is a CAS backend over the Supabase Storage REST API, mirroring
// the request-shaping discipline of the teacher's S3Store (bounded bodies,
// deterministic key layout) without SigV4 — Supabase Storage authenticates
// with a bearer service-role key instead.
type ObjectStore struct {
	opts ObjectStoreOptions
	hc   *http.Client
	base *url.URL
}

func NewObjectStore(opts ObjectStoreOptions) (*ObjectStore, error) {
	opts.BaseURL = strings.TrimSpace(opts.BaseURL)
	opts.ServiceRoleKey = strings.TrimSpace(opts.ServiceRoleKey)
	opts.Bucket = strings.TrimSpace(opts.Bucket)
	if opts.BaseURL == "" || opts.ServiceRoleKey == "" || opts.Bucket == "" {
		return nil, fmt.Errorf("%w: base url/service role key/bucket required", ErrInvalidRef)
	}
	opts.Prefix = strings.Trim(strings.TrimSpace(opts.Prefix), "/")
	if opts.Prefix == "" {
		opts.Prefix = "sms-pipeline"
	}
	if opts.HTTPTimeout <= 0 {
		opts.HTTPTimeout = 20 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 64 * 1024 * 1024
	}
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: base url parse: %v", ErrInvalidRef, err)
	}
	return &ObjectStore{opts: opts, hc: &http.Client{Timeout: opts.HTTPTimeout}, base: base}, nil
}

// objectPath mirrors the filesystem fan-out (<prefix>/sha256/<hh>/<hh>/<hex>)
// so both CAS backends share the same key shape, per §6.
func (s *ObjectStore) objectPath(hexDigest string) string {
	return fmt.Sprintf("%s/sha256/%s/%s/%s", s.opts.Prefix, hexDigest[0:2], hexDigest[2:4], hexDigest)
}

func (s *ObjectStore) endpoint(objectPath string) string {
	u := *s.base
	u.Path = fmt.Sprintf("/storage/v1/object/%s/%s", s.opts.Bucket, objectPath)
	return u.String()
}

func (s *ObjectStore) Put(ctx context.Context, payload []byte) (string, error) {
	if s.opts.MaxBodyBytes > 0 && int64(len(payload)) > s.opts.MaxBodyBytes {
		return "", fmt.Errorf("cas: payload exceeds max bytes")
	}
	sum := sha256.Sum256(payload)
	ref := RefFor(sum)
	hexDigest := hex.EncodeToString(sum[:])

	if ok, err := s.Has(ctx, ref); err == nil && ok {
		return ref, nil // upsert semantics, but skip re-PUT if present (§4.2 step 5)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint(s.objectPath(hexDigest)), bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	s.authorize(req)
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("x-upsert", "true")

	resp, err := s.hc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		return "", fmt.Errorf("cas: supabase put status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return ref, nil
}

func (s *ObjectStore) Get(ctx context.Context, ref string) ([]byte, error) {
	hexDigest, err := HexOf(ref)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint(s.objectPath(hexDigest)), nil)
	if err != nil {
		return nil, err
	}
	s.authorize(req)

	resp, err := s.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		return nil, fmt.Errorf("cas: supabase get status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var r io.Reader = resp.Body
	if s.opts.MaxBodyBytes > 0 {
		r = io.LimitReader(resp.Body, s.opts.MaxBodyBytes+1)
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if s.opts.MaxBodyBytes > 0 && int64(len(b)) > s.opts.MaxBodyBytes {
		return nil, fmt.Errorf("cas: object exceeds max bytes")
	}
	if err := verify(ref, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *ObjectStore) Has(ctx context.Context, ref string) (bool, error) {
	hexDigest, err := HexOf(ref)
	if err != nil {
		return false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.endpoint(s.objectPath(hexDigest)), nil)
	if err != nil {
		return false, err
	}
	s.authorize(req)
	resp, err := s.hc.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	return resp.StatusCode >= 200 && resp.StatusCode < 300, nil
}

func (s *ObjectStore) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+s.opts.ServiceRoleKey)
	req.Header.Set("apikey", s.opts.ServiceRoleKey)
}
