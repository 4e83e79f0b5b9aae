// Package backend contains RunClient implementations.
//
// Available implementations:
//   - http: the workflow HTTP API
//   - memory: scripted in-process client for tests and dry runs
package backend
