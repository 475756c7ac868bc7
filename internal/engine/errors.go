package engine

import "errors"

var (
	// ErrCommandFailed is returned when a command exhausted every
	// available channel without an acknowledgement.
	ErrCommandFailed = errors.New("engine: command failed on all channels")

	// ErrStateUnknown is returned when a device has never completed a
	// successful state fetch, so no snapshot exists yet.
	ErrStateUnknown = errors.New("engine: device state unknown")

	// ErrStopped is returned when an operation is attempted after the
	// engine has shut down.
	ErrStopped = errors.New("engine: stopped")
)
