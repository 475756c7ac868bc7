// Package session persists the bridge's long-lived session material:
// issued cloud tokens and the last-discovered device list. The engine
// core owns no on-disk format; this package is the surrounding
// application's implementation of the core's store interfaces.
package session
