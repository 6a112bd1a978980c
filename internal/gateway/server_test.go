package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/opsgate/internal/executor"
	"github.com/koopa0/opsgate/internal/ratelimit"
	"github.com/koopa0/opsgate/internal/security"
	"github.com/koopa0/opsgate/internal/session"
)

// stubRunner returns canned output without touching the OS.
type stubRunner struct {
	output string
	err    error
}

func (r *stubRunner) Run(_ context.Context, _ *security.SafeCommand) (string, error) {
	return r.output, r.err
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger := discardLogger()

	srv, err := NewServer(t.Context(), Config{
		Logger:    logger,
		Store:     session.NewStore(logger),
		Limiter:   ratelimit.New(logger),
		Validator: security.NewValidator(logger),
		Runner:    &stubRunner{output: "done"},
	})
	require.NoError(t, err)
	return srv
}

func TestNewServer_RequiredDependencies(t *testing.T) {
	logger := discardLogger()
	base := Config{
		Logger:    logger,
		Store:     session.NewStore(logger),
		Limiter:   ratelimit.New(logger),
		Validator: security.NewValidator(logger),
		Runner:    &stubRunner{},
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing store", func(c *Config) { c.Store = nil }},
		{"missing limiter", func(c *Config) { c.Limiter = nil }},
		{"missing validator", func(c *Config) { c.Validator = nil }},
		{"missing runner", func(c *Config) { c.Runner = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			_, err := NewServer(t.Context(), cfg)
			assert.Error(t, err)
		})
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestReady_NoGraph(t *testing.T) {
	srv := newTestServer(t)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.NotContains(t, body, "graph")
}

func doLogin(t *testing.T, srv *Server, payload any) *httptest.ResponseRecorder {
	t.Helper()
	buf, err := json.Marshal(payload)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/login", bytes.NewReader(buf))
	r.Header.Set("Content-Type", "application/json")
	srv.Handler().ServeHTTP(w, r)
	return w
}

func TestLogin(t *testing.T) {
	srv := newTestServer(t)

	w := doLogin(t, srv, loginRequest{UserID: "alice", ClientID: "cli-1"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp loginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Token, 64)
	assert.False(t, resp.ExpiresAt.IsZero())

	// The minted token authenticates.
	sess := srv.store.Validate(resp.Token)
	require.NotNil(t, sess)
	assert.Equal(t, "alice", sess.UserID)
}

func TestLogin_MalformedUser(t *testing.T) {
	srv := newTestServer(t)

	for _, user := range []string{"", "alice; rm -rf /", "a b", "x/../y"} {
		w := doLogin(t, srv, loginRequest{UserID: user})
		assert.Equalf(t, http.StatusBadRequest, w.Code, "user %q", user)
	}
}

func TestLogin_InvalidBody(t *testing.T) {
	srv := newTestServer(t)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/login", bytes.NewReader([]byte("{not json")))
	srv.Handler().ServeHTTP(w, r)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLogin_RateLimited(t *testing.T) {
	srv := newTestServer(t)

	// The login budget is 5 per window, keyed by client IP. Malformed
	// attempts count too.
	for range 5 {
		doLogin(t, srv, loginRequest{UserID: "alice"})
	}
	w := doLogin(t, srv, loginRequest{UserID: "alice"})

	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "rate_limited", body.Error)
	assert.Greater(t, body.RetryAfter, 0.0)
}

func TestLogin_RateLimitPerProxiedIP(t *testing.T) {
	logger := discardLogger()
	srv, err := NewServer(t.Context(), Config{
		Logger:     logger,
		Store:      session.NewStore(logger),
		Limiter:    ratelimit.New(logger),
		Validator:  security.NewValidator(logger),
		Runner:     &stubRunner{},
		TrustProxy: true,
	})
	require.NoError(t, err)

	login := func(ip string) *httptest.ResponseRecorder {
		buf, err := json.Marshal(loginRequest{UserID: "alice", ClientID: "cli-1"})
		require.NoError(t, err)
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/api/login", bytes.NewReader(buf))
		r.Header.Set("X-Real-IP", ip)
		srv.Handler().ServeHTTP(w, r)
		return w
	}

	// Exhaust one client's login budget.
	for range 5 {
		require.Equal(t, http.StatusOK, login("198.51.100.7").Code)
	}
	assert.Equal(t, http.StatusTooManyRequests, login("198.51.100.7").Code)

	// A different client behind the same proxy keeps its own budget.
	assert.Equal(t, http.StatusOK, login("198.51.100.8").Code)
}

func TestLogin_OriginIsRemoteAddress(t *testing.T) {
	srv := newTestServer(t)

	buf, err := json.Marshal(loginRequest{UserID: "alice"})
	require.NoError(t, err)
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/login", bytes.NewReader(buf))
	r.Header.Set("Origin", "https://evil.example")
	srv.Handler().ServeHTTP(w, r)
	require.Equal(t, http.StatusOK, w.Code)

	var resp loginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	// httptest requests arrive from 192.0.2.1. A client-supplied Origin
	// header must never end up in the audit trail.
	sess := srv.store.Validate(resp.Token)
	require.NotNil(t, sess)
	assert.Equal(t, "192.0.2.1", sess.Origin)
}

var _ executor.Runner = (*stubRunner)(nil)
