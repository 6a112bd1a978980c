package session

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// Authentication errors. ErrInvalidToken covers malformed, unknown, and
// expired tokens alike so a rejection leaks nothing about why a token is
// invalid.
var (
	ErrMissingToken = errors.New("missing authentication token")
	ErrInvalidToken = errors.New("invalid or expired token")
	ErrRateLimited  = errors.New("connection rate limit exceeded")
)

// tokenBytes is the entropy of a session token: 32 bytes = 256 bits,
// hex-encoded to 64 characters.
const tokenBytes = 32

// Session represents one authenticated connection-owner.
type Session struct {
	// Token is the opaque bearer token keying this session. High-entropy
	// and unguessable; unique across all live sessions.
	Token string

	UserID   string
	ClientID string

	// Origin is the remote address the session was created from.
	Origin string

	// Descriptor is an optional client self-description (user agent,
	// version string).
	Descriptor string

	CreatedAt    time.Time
	ExpiresAt    time.Time
	LastActivity time.Time
}

// Expired reports whether the session is past its absolute expiry.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// newToken generates a session token from a cryptographically secure
// random source.
func newToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating session token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// truncateToken shortens a token for audit logging. Eight hex characters
// identify a session in logs without making the log a token store.
func truncateToken(token string) string {
	if len(token) <= 8 {
		return token
	}
	return token[:8] + "…"
}
