// Package server defines shared response payload types and utility helpers that
// are reused across client, hub and handler logic.
package server

import "strings"

// HealthResponse is the body served on the root endpoint.
type HealthResponse struct {
	Message     string `json:"message"`
	ActiveRooms int    `json:"activeRooms"`
}

// SearchErrorResponse is the body served when the GIF lookup fails.
type SearchErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details"`
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
