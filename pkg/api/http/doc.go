// Package http provides the HTTP REST API implementation.
//
// The HTTP server exposes endpoints for:
//   - Session management, one session per workflow
//   - Starting flow, node and trigger test runs and attaching to executions
//   - Pause, resume, cancel and clear of the current run
//   - Snapshots of past executions
//   - Health checks
//   - Prometheus metrics
package http
