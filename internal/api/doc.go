// Package api implements the HTTP REST API and WebSocket server of the
// Smart Water service.
//
// This package provides:
//   - Credential validation for new accounts
//   - Read access to the profiles, devices and entity states served by
//     the coordinators
//   - Redacted diagnostics and forced refreshes per profile
//   - A WebSocket hub broadcasting data updates
//   - Prometheus exposition of the fetch metrics
//
// # Graceful Degradation
//
// The server only reads from the coordinators. A profile whose fetches
// fail keeps serving its last known data; the failure is reported in the
// profile listing and in its diagnostics.
package api
