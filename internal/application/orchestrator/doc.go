// Package orchestrator drives remote workflow test runs.
//
// A Manager owns one run at a time for one workflow:
//   - Starting full-graph, single-node and trigger runs
//   - Polling execution status until the backend reports a terminal status
//   - Pausing and resuming the poll loop, and cancelling remotely
//   - Aggregating node results, the node error index and derived edge state
//
// Run state changes are delivered synchronously to subscribers in the order
// they happen. Legacy "Warn" error levels are rewritten to "warning" before
// any result is stored.
package orchestrator
