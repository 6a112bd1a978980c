package session

import (
	"fmt"
	"testing"
	"time"

	"github.com/koopa0/opsgate/internal/log"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestStore(opts ...StoreOption) (*Store, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	opts = append([]StoreOption{WithClock(clock.now)}, opts...)
	return NewStore(log.NewNop(), opts...), clock
}

func TestCreate_TokenUniqueness(t *testing.T) {
	store, _ := newTestStore()

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		token, err := store.Create(fmt.Sprintf("user-%d", i), "cli", "127.0.0.1", "")
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if len(token) != 64 {
			t.Fatalf("expected 64 hex chars (256 bits), got %d", len(token))
		}
		if seen[token] {
			t.Fatalf("duplicate token issued: %s", token)
		}
		seen[token] = true
	}
}

func TestCreate_UserCapEvictsOldest(t *testing.T) {
	store, clock := newTestStore(WithUserCap(5))

	tokens := make([]string, 0, 6)
	for i := 0; i < 6; i++ {
		token, err := store.Create("alice", "cli", "127.0.0.1", "")
		if err != nil {
			t.Fatal(err)
		}
		tokens = append(tokens, token)
		clock.advance(time.Second) // distinct creation times
	}

	if got := store.Len(); got != 5 {
		t.Fatalf("expected 5 live sessions, got %d", got)
	}
	// The first (oldest) session was evicted; the 5 most recent remain.
	if store.Validate(tokens[0]) != nil {
		t.Error("oldest session should have been evicted")
	}
	for _, token := range tokens[1:] {
		if store.Validate(token) == nil {
			t.Errorf("recent session %s should survive", token[:8])
		}
	}
}

func TestCreate_CapIsPerUser(t *testing.T) {
	store, _ := newTestStore(WithUserCap(2))

	for i := 0; i < 2; i++ {
		if _, err := store.Create("alice", "cli", "", ""); err != nil {
			t.Fatal(err)
		}
		if _, err := store.Create("bob", "cli", "", ""); err != nil {
			t.Fatal(err)
		}
	}
	if got := store.Len(); got != 4 {
		t.Fatalf("caps must not interact across users: got %d sessions", got)
	}
}

func TestValidate_Expiry(t *testing.T) {
	store, clock := newTestStore(WithTTL(24 * time.Hour))

	token, err := store.Create("alice", "cli", "", "")
	if err != nil {
		t.Fatal(err)
	}

	clock.advance(24*time.Hour + time.Second)

	if store.Validate(token) != nil {
		t.Fatal("expired token should validate to nil")
	}
	// The expired session was deleted, not just hidden.
	if got := store.Len(); got != 0 {
		t.Fatalf("expired session should be removed, store has %d", got)
	}
}

func TestValidate_RefreshesLastActivity(t *testing.T) {
	store, clock := newTestStore()

	token, err := store.Create("alice", "cli", "", "")
	if err != nil {
		t.Fatal(err)
	}

	clock.advance(time.Hour)
	sess := store.Validate(token)
	if sess == nil {
		t.Fatal("session should be live")
	}
	if !sess.LastActivity.Equal(clock.t) {
		t.Errorf("last activity not refreshed: %s vs %s", sess.LastActivity, clock.t)
	}
	if !sess.CreatedAt.Before(sess.LastActivity) {
		t.Error("creation time should predate refreshed activity")
	}
}

func TestValidate_UnknownToken(t *testing.T) {
	store, _ := newTestStore()
	if store.Validate("deadbeef") != nil {
		t.Fatal("unknown token should validate to nil")
	}
	if store.Validate("") != nil {
		t.Fatal("empty token should validate to nil")
	}
}

func TestValidate_ReturnsCopy(t *testing.T) {
	store, _ := newTestStore()

	token, err := store.Create("alice", "cli", "", "")
	if err != nil {
		t.Fatal(err)
	}

	sess := store.Validate(token)
	sess.UserID = "mallory"

	if again := store.Validate(token); again.UserID != "alice" {
		t.Fatal("caller mutation must not reach store state")
	}
}

func TestRevoke(t *testing.T) {
	store, _ := newTestStore()

	token, err := store.Create("alice", "cli", "", "")
	if err != nil {
		t.Fatal(err)
	}

	if !store.Revoke(token) {
		t.Fatal("revoking a live session should return true")
	}
	if store.Revoke(token) {
		t.Fatal("revoking twice should return false")
	}
	if store.Validate(token) != nil {
		t.Fatal("revoked token should no longer validate")
	}
}

func TestRevokeUser(t *testing.T) {
	store, _ := newTestStore()

	for i := 0; i < 3; i++ {
		if _, err := store.Create("alice", "cli", "", ""); err != nil {
			t.Fatal(err)
		}
	}
	bobToken, err := store.Create("bob", "cli", "", "")
	if err != nil {
		t.Fatal(err)
	}

	if got := store.RevokeUser("alice"); got != 3 {
		t.Fatalf("expected 3 revoked, got %d", got)
	}
	if store.Validate(bobToken) == nil {
		t.Fatal("other users' sessions must survive")
	}
	if got := store.RevokeUser("nobody"); got != 0 {
		t.Fatalf("expected 0 revoked for unknown user, got %d", got)
	}
}

func TestSweepExpired(t *testing.T) {
	store, clock := newTestStore(WithTTL(time.Hour))

	if _, err := store.Create("old", "cli", "", ""); err != nil {
		t.Fatal(err)
	}
	clock.advance(30 * time.Minute)
	freshToken, err := store.Create("fresh", "cli", "", "")
	if err != nil {
		t.Fatal(err)
	}

	clock.advance(45 * time.Minute) // old: 75m (expired), fresh: 45m

	if got := store.SweepExpired(); got != 1 {
		t.Fatalf("expected 1 swept, got %d", got)
	}
	if store.Validate(freshToken) == nil {
		t.Fatal("unexpired session must survive the sweep")
	}
}
