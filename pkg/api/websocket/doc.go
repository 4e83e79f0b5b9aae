// Package websocket provides real-time event streaming via WebSocket.
//
// Clients connect to /api/v1/sessions/:id/ws to receive the current
// snapshot of a workflow session followed by its state transitions and
// poll progress as they happen.
package websocket
