// Package events provides event bus implementations.
//
// Implementations:
//   - redis: Redis Streams, broadcast reads or consumer groups
//   - memory: In-memory, synchronous delivery for single-process use and tests
package events
