package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/koopa0/opsgate/internal/ratelimit"
	"github.com/koopa0/opsgate/internal/security"
)

const maxLoginBody = 4 << 10

type loginRequest struct {
	UserID     string `json:"userId"`
	ClientID   string `json:"clientId"`
	Descriptor string `json:"descriptor,omitempty"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// handleLogin mints a session for a caller-asserted identity. Attempts
// are rate limited per client IP before the identity is even parsed, so
// a flood of bogus identities cannot bypass the login budget.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r, s.trustProxy)
	if !s.limiter.Check(ip, ratelimit.OpLogin) {
		retry := s.limiter.RetryAfter(ip, ratelimit.OpLogin).Seconds()
		writeRateLimited(w, retry, s.logger)
		return
	}

	var req loginRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxLoginBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large", s.logger)
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body", s.logger)
		return
	}

	if _, err := security.ValidateIdentifier(req.UserID, security.KindTenant); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_user", "user ID is malformed", s.logger)
		return
	}
	if req.ClientID == "" {
		req.ClientID = ip
	}

	// The session origin is the remote address, not a client-settable
	// header: it feeds audit logs.
	token, err := s.store.Create(req.UserID, req.ClientID, ip, req.Descriptor)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "session_failed", "could not create session", s.logger)
		return
	}

	sess := s.store.Validate(token)
	if sess == nil {
		writeError(w, http.StatusInternalServerError, "session_failed", "could not create session", s.logger)
		return
	}

	s.logger.Info("session issued",
		"security_event", "login",
		"user_id", req.UserID,
		"client_id", req.ClientID,
	)
	writeJSON(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: sess.ExpiresAt})
}
