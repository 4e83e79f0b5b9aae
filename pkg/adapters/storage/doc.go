// Package storage provides execution snapshot storage implementations.
//
// Implementations:
//   - redis: Redis with JSON serialization and TTL
//   - memory: In-memory, no expiry
package storage
