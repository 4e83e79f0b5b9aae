// Package sessions hosts the test-run orchestrators of the daemon.
//
// A Registry keeps one orchestrator.Manager per workflow id. Each session:
//   - Publishes its state transitions and merged poll ticks on the event bus
//   - Launches runs in the background, returning to the caller once the
//     run is executing or has already failed to start
//   - Persists execution snapshots through the shared snapshot storage
//
// The health monitor records session state counts as metrics.
package sessions
