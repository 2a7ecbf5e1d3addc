// Package fetch orchestrates how a profile's data is loaded.
//
// An Orchestrator owns the profile record and the DeviceSet of one profile.
// It fills them from one of two methods:
//
//   - WEB: log in, refresh the profile when it is older than the profile
//     refresh period, reconcile gateways and devices, publish the new set and
//     write the persisted cache (coalesced by the store)
//   - CACHE: read the persisted cache written by an earlier run
//
// Which methods are tried, and in which order, is declared by an Order:
//
//	CONFIG  [WEB]                  validation of new credentials
//	INIT    [CACHE, WEB, WEB, WEB] first load after start
//	NEXT    [WEB]                  steady state polling
//	CHANGE  [WEB, WEB, WEB]        write operations
//
// Attempt walks an order position by position and stops at the first
// success. Before a position whose method already ran earlier in the same
// order, it waits the retry delay; switching methods happens immediately.
// After a failed position the session is logged out so the next login
// starts clean. When every position failed, the first error is returned.
//
// Every attempt is recorded in Statistics (for diagnostics) and, when
// configured, in Prometheus Metrics.
//
// # Thread Safety
//
// Attempt, Change and ApplyPush are serialized per Orchestrator. Profile and
// Devices may be called concurrently with them; the returned DeviceSet is a
// snapshot that is never modified afterwards.
package fetch
