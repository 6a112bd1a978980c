package session

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/koopa0/opsgate/internal/ratelimit"
)

// Handshake carries the authentication material of an inbound connection:
// an explicit token field from the connection handshake, or an HTTP header
// set with Authorization: Bearer.
type Handshake struct {
	Token  string
	Header http.Header

	// Origin is the remote address, for audit logging only.
	Origin string
}

// bearerToken extracts the token from the handshake. The explicit field
// wins; otherwise the Authorization header is parsed for a Bearer scheme.
func (h Handshake) bearerToken() string {
	if h.Token != "" {
		return h.Token
	}
	return TokenFromHeader(h.Header)
}

// TokenFromHeader parses a Bearer token out of the Authorization header.
// Returns the empty string when the header is absent or not Bearer-shaped.
func TokenFromHeader(header http.Header) string {
	if header == nil {
		return ""
	}
	auth := header.Get("Authorization")
	scheme, token, ok := strings.Cut(auth, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// Authenticator gates inbound connections: token presence, token validity,
// and per-user connection rate.
type Authenticator struct {
	store   *Store
	limiter *ratelimit.Limiter
	logger  *slog.Logger
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(store *Store, limiter *ratelimit.Limiter, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{store: store, limiter: limiter, logger: logger}
}

// Authenticate validates a connection handshake and returns the bound
// session. All failures are terminal for the connection attempt; callers
// may retry with a fresh token. Malformed and unknown tokens fail
// identically with ErrInvalidToken.
func (a *Authenticator) Authenticate(hs Handshake) (*Session, error) {
	token := hs.bearerToken()
	if token == "" {
		a.logger.Warn("connection without token rejected",
			"origin", hs.Origin,
			"security_event", "missing_token")
		return nil, ErrMissingToken
	}

	sess := a.store.Validate(token)
	if sess == nil {
		a.logger.Warn("connection with invalid token rejected",
			"origin", hs.Origin,
			"token", truncateToken(token),
			"security_event", "invalid_token")
		return nil, ErrInvalidToken
	}

	if !a.limiter.Check(sess.UserID, ratelimit.OpConnection) {
		a.logger.Warn("connection rate limited",
			"user_id", sess.UserID,
			"origin", hs.Origin,
			"security_event", "connection_rate_limited")
		return nil, ErrRateLimited
	}

	return sess, nil
}

// RetryAfter returns how long the user's connection operation remains rate
// limited, for the caller's retry-after hint.
func (a *Authenticator) RetryAfter(userID string) float64 {
	return a.limiter.RetryAfter(userID, ratelimit.OpConnection).Seconds()
}
