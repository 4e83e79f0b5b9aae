// Package http implements ports.RunClient and ports.Document over the
// workflow HTTP API.
//
// Every response is an envelope {code, msg, data}; a non-zero code becomes
// an *APIError. Each call runs in its own trace span and propagates the
// trace context in the request headers.
package http
