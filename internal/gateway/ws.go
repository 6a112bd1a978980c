package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/koopa0/opsgate/internal/ratelimit"
	"github.com/koopa0/opsgate/internal/session"
)

const (
	// authDeadline bounds how long a fresh connection may stall before
	// sending its auth frame.
	authDeadline = 10 * time.Second

	wsWriteTimeout = 10 * time.Second
	maxFrameSize   = 64 << 10
	maxQueryLength = 8 << 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// clientMessage is the inbound frame envelope. Type selects which other
// fields are meaningful.
type clientMessage struct {
	Type    string   `json:"type"`
	ID      string   `json:"id,omitempty"`
	Token   string   `json:"token,omitempty"`
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`
	Query   string   `json:"query,omitempty"`
}

// serverMessage is the outbound frame envelope.
type serverMessage struct {
	Type         string  `json:"type"`
	ID           string  `json:"id,omitempty"`
	Error        string  `json:"error,omitempty"`
	Message      string  `json:"message,omitempty"`
	RetryAfter   float64 `json:"retryAfter,omitempty"`
	Output       string  `json:"output,omitempty"`
	Rows         [][]any `json:"rows,omitempty"`
	ConnectionID string  `json:"connectionId,omitempty"`
	UserID       string  `json:"userId,omitempty"`
}

// wsConn serializes writes to a websocket connection. gorilla/websocket
// forbids concurrent writers, and the heartbeat monitor pings from a
// timer goroutine while the read loop writes responses.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) writeJSON(msg serverMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteJSON(msg)
}

// Ping sends a protocol-level ping control frame. Implements
// session.Pinger for the heartbeat monitor.
func (c *wsConn) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout))
}

// Close tears down the underlying connection. Implements session.Pinger.
func (c *wsConn) Close() error {
	return c.conn.Close()
}

// handleWS upgrades the connection and runs its message loop. The first
// frame must authenticate; everything after rides the established
// session.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.logger.Debug("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	wc := &wsConn{conn: conn}
	conn.SetReadLimit(maxFrameSize)

	sess, ok := s.authenticateConn(wc, r)
	if !ok {
		_ = conn.Close()
		return
	}

	connectionID := uuid.New().String()
	s.logger.Info("connection established",
		"security_event", "connection_open",
		"connection_id", connectionID,
		"user_id", sess.UserID,
		"remote", r.RemoteAddr,
	)

	if err := wc.writeJSON(serverMessage{
		Type:         "ready",
		ConnectionID: connectionID,
		UserID:       sess.UserID,
	}); err != nil {
		_ = conn.Close()
		return
	}

	dead := make(chan struct{})
	monitor := session.NewMonitor(wc, s.heartbeatInterval, s.heartbeatTimeout, s.logger, func() {
		close(dead)
	})
	conn.SetPongHandler(func(string) error {
		monitor.Pong()
		return nil
	})
	monitor.Start()
	defer monitor.Stop()

	// Register so revocation can find and close this connection.
	entry := &connEntry{token: sess.Token, userID: sess.UserID, conn: wc, monitor: monitor}
	s.conns.add(entry)
	defer s.conns.remove(entry)

	s.readLoop(r.Context(), wc, sess, connectionID)

	select {
	case <-dead:
		s.logger.Warn("connection closed by heartbeat",
			"security_event", "heartbeat_dead",
			"connection_id", connectionID,
			"user_id", sess.UserID,
		)
	default:
		s.logger.Info("connection closed",
			"connection_id", connectionID,
			"user_id", sess.UserID,
		)
	}
}

// authenticateConn reads the auth frame and validates it. On failure an
// error frame is written and false returned; the caller closes the
// connection.
func (s *Server) authenticateConn(wc *wsConn, r *http.Request) (*session.Session, bool) {
	_ = wc.conn.SetReadDeadline(time.Now().Add(authDeadline))
	defer func() { _ = wc.conn.SetReadDeadline(time.Time{}) }()

	var msg clientMessage
	if err := wc.conn.ReadJSON(&msg); err != nil {
		s.logger.Warn("connection dropped before auth",
			"security_event", "auth_timeout",
			"remote", r.RemoteAddr,
		)
		return nil, false
	}
	if msg.Type != "auth" {
		_ = wc.writeJSON(serverMessage{Type: "error", Error: "auth_required", Message: "first frame must authenticate"})
		return nil, false
	}

	hs := session.Handshake{
		Token:  msg.Token,
		Header: r.Header,
		Origin: r.RemoteAddr,
	}
	sess, err := s.auth.Authenticate(hs)
	if err != nil {
		resp := serverMessage{Type: "error", Error: "auth_failed", Message: "authentication failed"}
		if errors.Is(err, session.ErrRateLimited) {
			resp.Error = "rate_limited"
			resp.Message = "too many connections"
			resp.RetryAfter = s.auth.RetryAfter(sessUserID(s.store, msg.Token))
		}
		_ = wc.writeJSON(resp)
		return nil, false
	}
	return sess, true
}

// sessUserID resolves the user behind a token for the retry-after hint.
// Rate limited tokens are still valid, so Validate succeeds here.
func sessUserID(store *session.Store, token string) string {
	if sess := store.Validate(token); sess != nil {
		return sess.UserID
	}
	return ""
}

// readLoop dispatches inbound frames until the connection drops.
func (s *Server) readLoop(ctx context.Context, wc *wsConn, sess *session.Session, connectionID string) {
	for {
		var msg clientMessage
		if err := wc.conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "ping":
			_ = wc.writeJSON(serverMessage{Type: "pong", ID: msg.ID})
		case "execute", "query":
			// The session is re-validated on every privileged frame:
			// revocation and expiry take effect mid-connection, not at
			// the next reconnect.
			if s.store.Validate(sess.Token) == nil {
				s.logger.Warn("frame on dead session rejected",
					"security_event", "revoked_session_frame",
					"connection_id", connectionID,
					"user_id", sess.UserID,
				)
				_ = wc.writeJSON(serverMessage{
					Type:    "error",
					ID:      msg.ID,
					Error:   "session_revoked",
					Message: "session is no longer valid",
				})
				return
			}
			if msg.Type == "execute" {
				s.handleExecute(ctx, wc, sess, msg)
			} else {
				s.handleQuery(ctx, wc, sess, msg)
			}
		default:
			_ = wc.writeJSON(serverMessage{
				Type:    "error",
				ID:      msg.ID,
				Error:   "unknown_type",
				Message: "unsupported message type",
			})
		}
	}
}

// handleExecute runs the full pipeline for a command frame: rate limit,
// validation, execution, sanitized response.
func (s *Server) handleExecute(ctx context.Context, wc *wsConn, sess *session.Session, msg clientMessage) {
	if !s.limiter.Check(sess.UserID, ratelimit.OpExecute) {
		retry := s.limiter.RetryAfter(sess.UserID, ratelimit.OpExecute).Seconds()
		_ = wc.writeJSON(serverMessage{
			Type:       "error",
			ID:         msg.ID,
			Error:      "rate_limited",
			Message:    "execute budget exhausted",
			RetryAfter: retry,
		})
		return
	}

	safe, err := s.validator.BuildSafeCommand(msg.Command, msg.Args)
	if err != nil {
		s.logger.Warn("command rejected",
			"security_event", "command_rejected",
			"user_id", sess.UserID,
			"command", msg.Command,
			"error", err,
		)
		_ = wc.writeJSON(serverMessage{
			Type:    "error",
			ID:      msg.ID,
			Error:   "command_rejected",
			Message: err.Error(),
		})
		return
	}

	output, err := s.runner.Run(ctx, safe)
	if err != nil {
		_ = wc.writeJSON(serverMessage{
			Type:    "error",
			ID:      msg.ID,
			Error:   "execution_failed",
			Message: "command execution failed",
			Output:  output,
		})
		return
	}

	_ = wc.writeJSON(serverMessage{Type: "result", ID: msg.ID, Output: output})
}

// handleQuery runs a read-only graph query. Only SELECT-shaped statements
// are accepted; anything else fails closed.
func (s *Server) handleQuery(ctx context.Context, wc *wsConn, sess *session.Session, msg clientMessage) {
	if !s.limiter.Check(sess.UserID, ratelimit.OpQuery) {
		retry := s.limiter.RetryAfter(sess.UserID, ratelimit.OpQuery).Seconds()
		_ = wc.writeJSON(serverMessage{
			Type:       "error",
			ID:         msg.ID,
			Error:      "rate_limited",
			Message:    "query budget exhausted",
			RetryAfter: retry,
		})
		return
	}

	if s.graph == nil {
		_ = wc.writeJSON(serverMessage{
			Type:    "error",
			ID:      msg.ID,
			Error:   "graph_unavailable",
			Message: "graph database not configured",
		})
		return
	}

	query := strings.TrimSpace(msg.Query)
	if query == "" || len(query) > maxQueryLength || !isReadOnlyQuery(query) {
		s.logger.Warn("query rejected",
			"security_event", "query_rejected",
			"user_id", sess.UserID,
		)
		_ = wc.writeJSON(serverMessage{
			Type:    "error",
			ID:      msg.ID,
			Error:   "query_rejected",
			Message: "only read-only queries are accepted",
		})
		return
	}

	rows, err := s.graph.Pool().Query(ctx, query)
	if err != nil {
		_ = wc.writeJSON(serverMessage{
			Type:    "error",
			ID:      msg.ID,
			Error:   "query_failed",
			Message: "query execution failed",
		})
		return
	}
	defer rows.Close()

	var results [][]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			_ = wc.writeJSON(serverMessage{
				Type:    "error",
				ID:      msg.ID,
				Error:   "query_failed",
				Message: "reading query results failed",
			})
			return
		}
		results = append(results, sanitizeRow(values))
	}
	if err := rows.Err(); err != nil {
		_ = wc.writeJSON(serverMessage{
			Type:    "error",
			ID:      msg.ID,
			Error:   "query_failed",
			Message: "query execution failed",
		})
		return
	}

	_ = wc.writeJSON(serverMessage{Type: "result", ID: msg.ID, Rows: results})
}

// isReadOnlyQuery accepts single SELECT or SHOW statements and nothing
// else. WITH is rejected because data-modifying CTEs can hide DML behind
// a SELECT, and EXPLAIN because EXPLAIN ANALYZE executes its statement.
// Statement chaining via ";" is rejected outright. The database user
// should be read-only too; this is the first gate, not the only one.
func isReadOnlyQuery(query string) bool {
	if strings.ContainsRune(query, ';') {
		return false
	}
	head := strings.ToUpper(query)
	for _, verb := range []string{"SELECT ", "SHOW "} {
		if strings.HasPrefix(head, verb) {
			return true
		}
	}
	return false
}

// sanitizeRow makes row values JSON-encodable. Byte slices become
// strings; everything else passes through and falls back to fmt-style
// rendering inside encoding/json.
func sanitizeRow(values []any) []any {
	out := make([]any, len(values))
	for i, v := range values {
		if b, ok := v.([]byte); ok {
			out[i] = string(b)
			continue
		}
		out[i] = v
	}
	return out
}
