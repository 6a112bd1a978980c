// Package ratelimit implements the operation-scoped sliding-window throttle
// consulted by the authenticator and by individual request handlers.
//
// The algorithm is sliding-window-with-lockout: requests are counted in a
// trailing window, and once a client exceeds the limit it is locked out for
// a full window rather than trickling back in as old timestamps age out.
// Recovery time is therefore predictable: exactly one window after the
// violation.
package ratelimit

import (
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Operation keys with dedicated limits. Unknown keys fall back to
// OpDefault's conservative limit.
const (
	OpConnection = "connection"
	OpLogin      = "login"
	OpExecute    = "execute"
	OpQuery      = "query"
	OpRead       = "read"
	OpDefault    = "default"
)

// Limit configures one operation: at most MaxRequests per Window.
type Limit struct {
	Window      time.Duration
	MaxRequests int
}

// defaultLimits is the static per-operation table. Callers select a row by
// passing an operation key to Check.
var defaultLimits = map[string]Limit{
	OpConnection: {Window: time.Minute, MaxRequests: 10},
	OpLogin:      {Window: 5 * time.Minute, MaxRequests: 5},
	OpExecute:    {Window: time.Minute, MaxRequests: 10},
	OpQuery:      {Window: time.Minute, MaxRequests: 30},
	OpRead:       {Window: time.Minute, MaxRequests: 50},
	OpDefault:    {Window: time.Minute, MaxRequests: 20},
}

// record holds throttle state for one (client, operation) pair.
type record struct {
	timestamps  []time.Time
	blocked     bool
	blockExpiry time.Time
	lastSeen    time.Time
}

// Limiter is a sliding-window-with-lockout rate limiter.
// Safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	records map[string]*record
	limits  map[string]Limit
	logger  *slog.Logger

	// now is replaceable in tests.
	now func() time.Time
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithLimits replaces the static operation table. Missing OpDefault falls
// back to the built-in default row.
func WithLimits(limits map[string]Limit) Option {
	return func(l *Limiter) { l.limits = limits }
}

// WithClock replaces the time source. Test use only.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a Limiter with the static per-operation table.
func New(logger *slog.Logger, opts ...Option) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Limiter{
		records: make(map[string]*record),
		limits:  defaultLimits,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// limitFor returns the configured limit for an operation, falling back to
// the conservative default for unknown keys.
func (l *Limiter) limitFor(operation string) Limit {
	if lim, ok := l.limits[operation]; ok {
		return lim
	}
	if lim, ok := l.limits[OpDefault]; ok {
		return lim
	}
	return defaultLimits[OpDefault]
}

// key builds the record key for a (client, operation) pair.
func key(clientID, operation string) string {
	return clientID + "\x1f" + operation
}

// Check reports whether a request from clientID for the given operation is
// allowed, recording it if so. Checks are evaluated in arrival order per
// (client, operation) key; exceeding the limit blocks the pair for a full
// window.
func (l *Limiter) Check(clientID, operation string) bool {
	lim := l.limitFor(operation)

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	k := key(clientID, operation)

	rec, ok := l.records[k]
	if !ok {
		rec = &record{}
		l.records[k] = rec
	}
	rec.lastSeen = now

	if rec.blocked {
		if now.Before(rec.blockExpiry) {
			return false
		}
		// Block elapsed: clear it and start a fresh window.
		rec.blocked = false
		rec.blockExpiry = time.Time{}
		rec.timestamps = rec.timestamps[:0]
	}

	// Prune timestamps that fell out of the window.
	cutoff := now.Add(-lim.Window)
	kept := rec.timestamps[:0]
	for _, ts := range rec.timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	rec.timestamps = kept

	if len(rec.timestamps) >= lim.MaxRequests {
		rec.blocked = true
		rec.blockExpiry = now.Add(lim.Window)
		l.logger.Warn("rate limit exceeded",
			"client_id", clientID,
			"operation", operation,
			"max_requests", lim.MaxRequests,
			"window", lim.Window,
			"security_event", "rate_limit_exceeded")
		return false
	}

	rec.timestamps = append(rec.timestamps, now)
	return true
}

// RetryAfter returns how long the pair remains blocked, for the caller's
// retry-after hint. Zero means not blocked.
func (l *Limiter) RetryAfter(clientID, operation string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[key(clientID, operation)]
	if !ok || !rec.blocked {
		return 0
	}
	d := rec.blockExpiry.Sub(l.now())
	if d < 0 {
		return 0
	}
	return d
}

// idleWindows is how many windows of silence a record survives before
// Sweep removes it.
const idleWindows = 10

// Sweep removes records with no activity in the last ten windows that are
// not currently blocked. Returns the number of records removed.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for k, rec := range l.records {
		if rec.blocked && now.Before(rec.blockExpiry) {
			continue
		}
		// The operation is the key suffix; re-derive its window for the
		// idle grace period.
		op := k
		if i := strings.LastIndexByte(k, '\x1f'); i >= 0 {
			op = k[i+1:]
		}
		grace := time.Duration(idleWindows) * l.limitFor(op).Window
		if now.Sub(rec.lastSeen) > grace {
			delete(l.records, k)
			removed++
		}
	}
	return removed
}
