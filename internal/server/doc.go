// Package server implements the HTTP and WebSocket transport of the room chat
// relay.
//
// The implementation is organized into specialized files for configuration, the
// connection hub, clients, routing, and HTTP handlers. Room state lives in the
// chat package; this package only moves frames between sockets and sessions.
package server
