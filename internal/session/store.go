package session

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Store defaults, overridable through Options.
const (
	// DefaultTTL is the absolute session lifetime: expiry is always
	// creation time plus the TTL.
	DefaultTTL = 24 * time.Hour

	// DefaultUserCap is the maximum number of concurrent sessions per
	// user. Creating one more evicts the oldest.
	DefaultUserCap = 5
)

// Store is the in-memory session store.
// Safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration
	userCap  int
	logger   *slog.Logger

	// now is replaceable in tests.
	now func() time.Time
}

// StoreOption customizes a Store.
type StoreOption func(*Store)

// WithTTL overrides the session lifetime.
func WithTTL(ttl time.Duration) StoreOption {
	return func(s *Store) { s.ttl = ttl }
}

// WithUserCap overrides the per-user concurrent session cap.
func WithUserCap(cap int) StoreOption {
	return func(s *Store) { s.userCap = cap }
}

// WithClock replaces the time source. Test use only.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// NewStore creates a session store.
func NewStore(logger *slog.Logger, opts ...StoreOption) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		sessions: make(map[string]*Session),
		ttl:      DefaultTTL,
		userCap:  DefaultUserCap,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create issues a new session for the user and returns its token. If the
// user is already at the concurrent-session cap, the oldest session(s) are
// evicted first, by insertion time, never arbitrarily.
func (s *Store) Create(userID, clientID, origin, descriptor string) (string, error) {
	token, err := newToken()
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.evictOldestLocked(userID, s.userCap-1)

	s.sessions[token] = &Session{
		Token:        token,
		UserID:       userID,
		ClientID:     clientID,
		Origin:       origin,
		Descriptor:   descriptor,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.ttl),
		LastActivity: now,
	}

	s.logger.Info("session created",
		"user_id", userID,
		"client_id", clientID,
		"origin", origin,
		"token", truncateToken(token))
	return token, nil
}

// evictOldestLocked removes the user's oldest sessions until at most keep
// remain. Caller holds the lock.
func (s *Store) evictOldestLocked(userID string, keep int) {
	var owned []*Session
	for _, sess := range s.sessions {
		if sess.UserID == userID {
			owned = append(owned, sess)
		}
	}
	if len(owned) <= keep {
		return
	}

	sort.Slice(owned, func(i, j int) bool {
		return owned[i].CreatedAt.Before(owned[j].CreatedAt)
	})
	for _, sess := range owned[:len(owned)-keep] {
		delete(s.sessions, sess.Token)
		s.logger.Info("session evicted by user cap",
			"user_id", userID,
			"token", truncateToken(sess.Token))
	}
}

// Validate looks up a session by token. Unknown tokens return nil. Expired
// sessions are deleted on sight and return nil: the session is dead, not
// just stale. On success the session's last-activity timestamp is
// refreshed. Idempotent and safe to call on every message; a copy is
// returned so callers cannot mutate store state.
func (s *Store) Validate(token string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[token]
	if !ok {
		return nil
	}

	now := s.now()
	if sess.Expired(now) {
		delete(s.sessions, token)
		s.logger.Info("expired session removed on lookup",
			"user_id", sess.UserID,
			"token", truncateToken(token))
		return nil
	}

	sess.LastActivity = now
	copied := *sess
	return &copied
}

// Revoke removes a session by token. Returns whether a session existed.
func (s *Store) Revoke(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[token]
	if !ok {
		return false
	}
	delete(s.sessions, token)
	s.logger.Info("session revoked",
		"user_id", sess.UserID,
		"token", truncateToken(token))
	return true
}

// RevokeUser removes all of a user's sessions and returns how many were
// removed. Used on logout-everywhere and administrative action.
func (s *Store) RevokeUser(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for token, sess := range s.sessions {
		if sess.UserID == userID {
			delete(s.sessions, token)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Info("user sessions revoked", "user_id", userID, "count", removed)
	}
	return removed
}

// SweepExpired removes all sessions past expiry and returns the count.
// Intended to run on a fixed period.
func (s *Store) SweepExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for token, sess := range s.sessions {
		if sess.Expired(now) {
			delete(s.sessions, token)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Info("expired sessions swept", "count", removed)
	}
	return removed
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
