// Package api implements the HTTP REST API and WebSocket status stream for
// the integration service.
//
// This package provides:
//   - REST endpoints for device listing, current state and commands
//   - Per-device command history when the command log is enabled
//   - A WebSocket hub relaying hub state changes to subscribed clients
//   - Health and stats endpoints, plus a Prometheus scrape endpoint
//   - Middleware stack (request ID, logging, metrics, recovery)
//
// # Architecture
//
// The API server sits in front of the platform. Commands are executed
// synchronously: a request returns once the backend has acknowledged the
// command or the pipeline has given up. State changes reach WebSocket
// clients through a hub listener, so out-of-band reports from physical
// devices are streamed exactly like command results.
//
// # Error Mapping
//
// Validation failures map to 422, a busy device to 409, a bridge that is
// not initialized, exhausted or closed to 503, an unknown device to 404 and
// a malformed request body to 400.
package api
