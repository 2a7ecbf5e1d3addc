// Package cloud talks to the Smart Water cloud.
//
// The package provides:
//   - Client: the contract the fetch layer depends on (login, logout and the
//     profile, gateway and device reads)
//   - HTTPClient: a REST implementation of Client
//   - Pool: one shared Client per set of credentials
//   - PushSubscriber: delivery of push notifications received over MQTT
//
// # Errors
//
// Every Client method classifies failures with the sentinels in errors.go.
// ErrConnect covers network failures and server errors, ErrAuth rejected
// credentials or tokens. Callers use errors.Is to tell them apart; the fetch
// layer logs both at Info level because they are expected while the cloud or
// the network is down.
//
// # Sessions
//
// HTTPClient keeps the access token returned by login. Login is a no-op while
// the token is still valid for at least tokenExpiryMargin, so callers may call
// it before every refresh. The expiry is read from the token's exp claim; the
// signature is not checked because the token is only ever sent back to the
// server that issued it.
//
// # Thread Safety
//
// HTTPClient, Pool and PushSubscriber are safe for concurrent use.
package cloud
