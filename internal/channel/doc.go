// Package channel defines the transport abstraction shared by the vendor
// cloud API and the direct LAN protocol.
//
// Both transports expose the same capability - fetch a device list (cloud
// only), fetch a device's state, send a command - over very different wire
// protocols with different latency and failure modes. The concrete
// implementations live in the cloud and local subpackages; the engine
// selects between them per operation based on current reachability.
//
// Errors are classified into a small taxonomy (ErrConnectivity, ErrAuth,
// ErrProtocol, ErrCommandRejected) so retry policy lives with the caller,
// not the transport.
package channel
