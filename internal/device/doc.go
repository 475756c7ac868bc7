// Package device provides the device registry and data model for the
// Turkov bridge.
//
// The Registry is the central catalogue of ventilation units known to the
// bridge. It is populated by synchronising against the vendor cloud's
// device list and optionally restored from a persisted copy on startup.
//
// # Key Types
//
//   - Device: a single ventilation unit with its per-channel connection
//     parameters and advertised capability set
//   - Capability: a named controllable or read-only parameter with a value
//     kind, wire key and validity constraints
//   - State: an immutable, timestamped snapshot of capability values
//
// # Capability model
//
// Capability sets are derived from the device type at discovery time
// (Zenit, Capsule and i-Vent units share a common core; Capsule adds
// humidification and relay control). Within a session the set is
// append-only: a capability never disappears, even if a later discovery
// response omits it.
//
// # Thread Safety
//
// The Registry is safe for concurrent use. Returned devices are deep
// copies; mutating them never affects registry state.
package device
