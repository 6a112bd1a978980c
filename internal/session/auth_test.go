package session

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/koopa0/opsgate/internal/log"
	"github.com/koopa0/opsgate/internal/ratelimit"
)

func newTestAuthenticator(t *testing.T, connLimit int) (*Authenticator, *Store) {
	t.Helper()
	store := NewStore(log.NewNop())
	limiter := ratelimit.New(log.NewNop(), ratelimit.WithLimits(map[string]ratelimit.Limit{
		ratelimit.OpConnection: {Window: time.Minute, MaxRequests: connLimit},
		ratelimit.OpDefault:    {Window: time.Minute, MaxRequests: connLimit},
	}))
	return NewAuthenticator(store, limiter, log.NewNop()), store
}

func TestAuthenticate_HandshakeField(t *testing.T) {
	auth, store := newTestAuthenticator(t, 100)

	token, err := store.Create("alice", "cli", "127.0.0.1", "")
	if err != nil {
		t.Fatal(err)
	}

	sess, err := auth.Authenticate(Handshake{Token: token})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sess.UserID != "alice" {
		t.Fatalf("wrong session bound: %+v", sess)
	}
}

func TestAuthenticate_BearerHeader(t *testing.T) {
	auth, store := newTestAuthenticator(t, 100)

	token, err := store.Create("alice", "cli", "127.0.0.1", "")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		header string
		ok     bool
	}{
		{name: "standard bearer", header: "Bearer " + token, ok: true},
		{name: "lowercase scheme", header: "bearer " + token, ok: true},
		{name: "wrong scheme", header: "Basic " + token, ok: false},
		{name: "scheme only", header: "Bearer", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			h.Set("Authorization", tt.header)
			_, err := auth.Authenticate(Handshake{Header: h})
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok && err == nil {
				t.Fatal("expected rejection")
			}
		})
	}
}

func TestAuthenticate_MissingToken(t *testing.T) {
	auth, _ := newTestAuthenticator(t, 100)

	if _, err := auth.Authenticate(Handshake{}); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected ErrMissingToken, got %v", err)
	}
}

func TestAuthenticate_InvalidAndExpiredLookIdentical(t *testing.T) {
	auth, store := newTestAuthenticator(t, 100)

	// Unknown token.
	_, errUnknown := auth.Authenticate(Handshake{Token: "deadbeef"})
	if !errors.Is(errUnknown, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for unknown token, got %v", errUnknown)
	}

	// Revoked (previously valid) token.
	token, err := store.Create("alice", "cli", "", "")
	if err != nil {
		t.Fatal(err)
	}
	store.Revoke(token)
	_, errRevoked := auth.Authenticate(Handshake{Token: token})
	if !errors.Is(errRevoked, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for revoked token, got %v", errRevoked)
	}

	// No information leak about why.
	if errUnknown.Error() != errRevoked.Error() {
		t.Fatal("unknown and revoked tokens must fail identically")
	}
}

func TestAuthenticate_RateLimited(t *testing.T) {
	auth, store := newTestAuthenticator(t, 2)

	token, err := store.Create("alice", "cli", "", "")
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		if _, err := auth.Authenticate(Handshake{Token: token}); err != nil {
			t.Fatalf("connection %d should pass: %v", i+1, err)
		}
	}
	if _, err := auth.Authenticate(Handshake{Token: token}); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if auth.RetryAfter("alice") <= 0 {
		t.Fatal("expected a positive retry-after hint")
	}
}
