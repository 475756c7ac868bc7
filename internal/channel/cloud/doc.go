// Package cloud implements the vendor cloud channel over HTTPS/JSON.
//
// The client signs in with account credentials, keeps the session alive
// with refresh-token renewals, and exposes the channel surface: device
// discovery from the account's device list, state fetches, and single
// key/value commands.
//
// # Session Lifecycle
//
// Tokens carry explicit expiry timestamps from the server and are treated
// as expired 60 seconds early so an in-flight request never races the real
// expiry. Renewal prefers the refresh token and falls back to a full
// sign-in when refresh fails or the refresh token itself has lapsed. A
// TokenStore, when supplied, persists tokens between runs so a restart
// does not burn a sign-in.
//
// Authentication errors from individual requests trigger one transparent
// renewal and retry; ErrAuth is returned to callers only when renewal
// itself fails.
//
// # Caching
//
// The device list and per-device state endpoints support ETags. The client
// replays If-None-Match on each request and answers 304 responses from the
// cached payload, so unchanged data costs one round trip and no parsing.
//
// # Wire Quirks
//
// The state endpoint returns a JSON array whose last element is a
// JSON-encoded string containing the actual state object. Command
// responses signal success with the literal message "success"; anything
// else is a device-side rejection.
package cloud
