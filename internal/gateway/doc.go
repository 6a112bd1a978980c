// Package gateway exposes the authenticated control surface: a login
// endpoint that mints bearer tokens and a WebSocket endpoint that carries
// execute and query traffic for established sessions.
//
// Every inbound operation passes the same pipeline before touching a
// privileged resource: session authentication, per-operation rate
// limiting, then command validation. Failures at any stage are terminal
// for the request.
package gateway
