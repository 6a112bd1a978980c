package gateway

import (
	"net/http"
	"time"

	"github.com/koopa0/opsgate/internal/ratelimit"
	"github.com/koopa0/opsgate/internal/session"
)

type sessionInfo struct {
	UserID       string    `json:"userId"`
	ClientID     string    `json:"clientId"`
	CreatedAt    time.Time `json:"createdAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
	LastActivity time.Time `json:"lastActivity"`
}

// requireSession authenticates an HTTP request by bearer token and applies
// the read budget. Returns nil after writing the error response.
func (s *Server) requireSession(w http.ResponseWriter, r *http.Request) *session.Session {
	token := session.TokenFromHeader(r.Header)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "missing_token", "bearer token required", s.logger)
		return nil
	}

	sess := s.store.Validate(token)
	if sess == nil {
		writeError(w, http.StatusUnauthorized, "invalid_token", "authentication failed", s.logger)
		return nil
	}

	if !s.limiter.Check(sess.UserID, ratelimit.OpRead) {
		retry := s.limiter.RetryAfter(sess.UserID, ratelimit.OpRead).Seconds()
		writeRateLimited(w, retry, s.logger)
		return nil
	}
	return sess
}

// handleSessionInfo returns the caller's own session metadata.
func (s *Server) handleSessionInfo(w http.ResponseWriter, r *http.Request) {
	sess := s.requireSession(w, r)
	if sess == nil {
		return
	}

	writeJSON(w, http.StatusOK, sessionInfo{
		UserID:       sess.UserID,
		ClientID:     sess.ClientID,
		CreatedAt:    sess.CreatedAt,
		ExpiresAt:    sess.ExpiresAt,
		LastActivity: sess.LastActivity,
	})
}

// handleLogout revokes the presented token. With ?all=1 every session of
// the same user is revoked, the presented one included.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := s.requireSession(w, r)
	if sess == nil {
		return
	}

	// Revoking a session also tears down its live connections: the
	// registry closes each one and stops its heartbeat monitor.
	revoked := 1
	var closed int
	if r.URL.Query().Get("all") == "1" {
		revoked = s.store.RevokeUser(sess.UserID)
		closed = s.conns.closeUser(sess.UserID)
	} else {
		token := session.TokenFromHeader(r.Header)
		s.store.Revoke(token)
		closed = s.conns.closeToken(token)
	}

	s.logger.Info("session revoked",
		"security_event", "logout",
		"user_id", sess.UserID,
		"revoked", revoked,
		"connections_closed", closed,
	)
	writeJSON(w, http.StatusOK, map[string]int{"revoked": revoked})
}
