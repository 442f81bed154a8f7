// Package ratelimit implements the Gateway's per-source rate-limit gate
// (§4.2 step 2, §5 "rate limiters"): a requests-per-minute token bucket, a
// bytes-per-minute token bucket, and a concurrency semaphore, generalized
// from the domain-keyed limiter in
// services/connector-hub/internal/pool/per_domain_limits.go to be keyed by
// source_id. The continuous-refill primitive itself is golang.org/x/time/rate
// rather than the hand-rolled refill loop, per the pack's DOMAIN STACK.
package ratelimit

import (
	"context"
	"errors"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

var ErrLimitExceeded = errors.New("ratelimit: limit exceeded")

// Limits configures one source's buckets. Zero RequestsPerMin or
// BytesPerMin means "unlimited" for that dimension.
type Limits struct {
	RequestsPerMin int
	BytesPerMin    int
	Concurrency    int
}

type sourceState struct {
	requests *rate.Limiter
	bytes    *rate.Limiter
	sem      chan struct{}
}

// Gate is the per-source_id limiter set used by the Gateway's rate-limit
// gate. Safe for concurrent use across sources processed in parallel (§5).
type Gate struct {
	mu       sync.Mutex
	defaults Limits
	per      map[string]Limits
	state    map[string]*sourceState
}

func NewGate(defaults Limits) *Gate {
	if defaults.Concurrency <= 0 {
		defaults.Concurrency = 4
	}
	return &Gate{
		defaults: defaults,
		per:      make(map[string]Limits),
		state:    make(map[string]*sourceState),
	}
}

// Set overrides limits for one source_id (e.g. loaded from its registry
// entry's rate_limits block, §4.11).
func (g *Gate) Set(sourceID string, lim Limits) {
	sourceID = normalizeSourceID(sourceID)
	if sourceID == "" {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.per[sourceID] = lim
	delete(g.state, sourceID) // rebuild with new limits on next use
}

func (g *Gate) stateFor(sourceID string) *sourceState {
	g.mu.Lock()
	defer g.mu.Unlock()
	if st, ok := g.state[sourceID]; ok {
		return st
	}
	lim := g.defaults
	if v, ok := g.per[sourceID]; ok {
		lim = mergeLimits(g.defaults, v)
	}
	st := &sourceState{sem: make(chan struct{}, lim.Concurrency)}
	if lim.RequestsPerMin > 0 {
		st.requests = rate.NewLimiter(rate.Limit(float64(lim.RequestsPerMin)/60.0), lim.RequestsPerMin)
	}
	if lim.BytesPerMin > 0 {
		st.bytes = rate.NewLimiter(rate.Limit(float64(lim.BytesPerMin)/60.0), lim.BytesPerMin)
	}
	g.state[sourceID] = st
	return st
}

// Acquire blocks until a request slot, payloadSizeBytes of byte budget, and
// a concurrency slot are all available for sourceID, or ctx is cancelled.
// The returned release func must be called when the fetch completes.
func (g *Gate) Acquire(ctx context.Context, sourceID string, payloadSizeBytes int) (release func(), err error) {
	sourceID = normalizeSourceID(sourceID)
	st := g.stateFor(sourceID)

	select {
	case st.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if st.requests != nil {
		if err := st.requests.Wait(ctx); err != nil {
			<-st.sem
			return nil, err
		}
	}
	if st.bytes != nil && payloadSizeBytes > 0 {
		if err := st.bytes.WaitN(ctx, min(payloadSizeBytes, st.bytes.Burst())); err != nil {
			<-st.sem
			return nil, err
		}
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		<-st.sem
	}, nil
}

func mergeLimits(def, in Limits) Limits {
	out := in
	if out.Concurrency <= 0 {
		out.Concurrency = def.Concurrency
	}
	return out
}

func normalizeSourceID(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
