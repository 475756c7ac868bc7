package channel

import (
	"context"

	"github.com/airlogic/turkov-bridge/internal/device"
)

// Channel is the uniform transport contract shared by the cloud and local
// variants: fetch a device's state and send it a command. Implementations
// map their wire-level failures onto the package's sentinel errors so
// callers can drive retry policy with errors.Is.
type Channel interface {
	// Name identifies the channel ("cloud" or "local").
	Name() device.ChannelName

	// FetchState retrieves a complete state snapshot for the device.
	// Fails with ErrConnectivity (unreachable/timeout) or ErrProtocol
	// (malformed response).
	FetchState(ctx context.Context, dev *device.Device) (device.State, error)

	// SendCommand writes a single capability value to the device.
	// key is the vendor wire key; value must already be validated.
	// Fails with ErrConnectivity, ErrProtocol or ErrCommandRejected.
	SendCommand(ctx context.Context, dev *device.Device, key string, value any) error
}

// Discoverer lists the devices registered to the cloud account.
// Only the cloud channel discovers; the local protocol has no listing.
type Discoverer interface {
	// ListDevices fetches the account's device list. Fails with ErrAuth
	// or ErrConnectivity.
	ListDevices(ctx context.Context) ([]device.Device, error)
}

// Prober exposes a lightweight reachability check used by the
// channel-selection policy. Only the local channel probes; cloud
// reachability is learned from call outcomes.
type Prober interface {
	// Probe reports whether the device answers on its LAN endpoint.
	Probe(ctx context.Context, dev *device.Device) bool
}
