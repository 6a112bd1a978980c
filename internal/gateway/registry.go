package gateway

import (
	"sync"

	"github.com/koopa0/opsgate/internal/session"
)

// connEntry is one live WebSocket connection and its heartbeat monitor.
type connEntry struct {
	token   string
	userID  string
	conn    *wsConn
	monitor *session.Monitor
}

// connRegistry tracks live connections so session revocation reaches
// them: revoking a token must close its connections and stop their
// heartbeat monitors, not just forget the session. A token may back more
// than one connection.
type connRegistry struct {
	mu      sync.Mutex
	entries map[*connEntry]struct{}
}

func newConnRegistry() *connRegistry {
	return &connRegistry{entries: make(map[*connEntry]struct{})}
}

func (r *connRegistry) add(e *connEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[e] = struct{}{}
}

func (r *connRegistry) remove(e *connEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, e)
}

// closeToken force-closes every connection established with the token
// and returns how many were closed.
func (r *connRegistry) closeToken(token string) int {
	return r.closeMatching(func(e *connEntry) bool { return e.token == token })
}

// closeUser force-closes every connection of the user and returns how
// many were closed.
func (r *connRegistry) closeUser(userID string) int {
	return r.closeMatching(func(e *connEntry) bool { return e.userID == userID })
}

// closeMatching removes matching entries under the lock, then stops
// their monitors and closes their connections outside it: Close unblocks
// the connection's read loop, which re-enters the registry to remove
// itself.
func (r *connRegistry) closeMatching(match func(*connEntry) bool) int {
	r.mu.Lock()
	var victims []*connEntry
	for e := range r.entries {
		if match(e) {
			victims = append(victims, e)
			delete(r.entries, e)
		}
	}
	r.mu.Unlock()

	for _, e := range victims {
		e.monitor.Stop()
		_ = e.conn.Close()
	}
	return len(victims)
}
