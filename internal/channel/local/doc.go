// Package local implements the direct LAN channel.
//
// Devices expose a small unauthenticated HTTP server on the home network:
// GET /state returns the raw state object and POST /command accepts a
// single key/value write. The command body is a firmware quirk: the key
// is unquoted and the value is always a quoted string. It is reproduced
// exactly, since the device parser accepts nothing else.
//
// Local reachability is probed with a bounded TCP dial so the exchange
// cycle can prefer the LAN path and fall back to the cloud when a device
// drops off the network.
package local
