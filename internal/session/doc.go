// Package session implements the session and connection authenticator: it
// issues, validates, and expires the opaque bearer tokens that gate every
// inbound connection and every privileged request.
//
// Sessions live in a mutex-guarded in-process map. A process restart drops
// all sessions, which is acceptable (clients re-authenticate) but means the
// store does not support multiple server processes sharing state; scaling
// horizontally requires an external shared store, which is out of scope
// here.
//
// The heartbeat Monitor detects half-open connections without relying on
// the transport's own liveness signal: it pings on a fixed interval and
// declares the connection dead when a pong does not arrive in time. Every
// armed timer has a disarm path on every exit transition (pong received,
// connection closed, session revoked), so a stale timer can never fire
// against a closed connection.
package session
