package channel

import "errors"

// Transport error taxonomy.
//
// Implementations wrap these sentinels so callers can classify failures
// with errors.Is():
//
//	if errors.Is(err, channel.ErrConnectivity) {
//	    // transient - retry per policy
//	}
var (
	// ErrConnectivity indicates a transient network failure or timeout.
	// Retried with backoff by the poller and once cross-channel by the
	// dispatcher.
	ErrConnectivity = errors.New("channel: connectivity")

	// ErrAuth indicates the cloud session could not be established or
	// renewed. Not retryable without fresh credentials.
	ErrAuth = errors.New("channel: authentication")

	// ErrProtocol indicates a malformed or unexpected response.
	ErrProtocol = errors.New("channel: protocol")

	// ErrCommandRejected indicates the device refused the command value.
	// Never retried.
	ErrCommandRejected = errors.New("channel: command rejected")
)
