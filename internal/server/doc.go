// Package server implements the HTTP API: mission creation and status, the
// live broadcast WebSocket, and monitoring endpoints.
package server
