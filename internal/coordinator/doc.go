// Package coordinator runs one Smart Water profile.
//
// A Coordinator owns the fetch orchestrator of its profile and executes all
// work for it on a single goroutine: scheduled polls, forced refreshes and
// push notifications are queued as tasks, so no two fetches of one profile
// overlap. The first poll uses the INIT fetch order (cache first), every
// later one uses NEXT.
//
// After each successful update the coordinator
//
//   - registers devices and entities on the first load, which also sets the
//     baseline used to detect new cloud devices,
//   - checks for new devices once the reload delay has passed and asks for a
//     reload when one appears, doubling the delay for the next check,
//   - keeps the push subscriptions in line with the current devices,
//   - publishes entity states to the configured publishers,
//   - notifies listeners of the update.
//
// The Supervisor keeps one coordinator per configured profile. It reuses a
// coordinator while its settings are unchanged, recreates it when they
// change or a reload is requested, and carries the reload count over to the
// new instance.
//
// On shutdown the cache is written regardless of its write period; the
// cloud session is left open since other profiles may share it.
package coordinator
