// Package api provides the HTTP REST API and WebSocket server for the
// Turkov bridge.
//
// It exposes the device registry, cached state snapshots, and command
// dispatch over REST, and streams state notifications to WebSocket
// clients. The API is an operational surface for dashboards and
// debugging; the MQTT bridge remains the primary platform integration.
//
// The server follows the same lifecycle pattern as other infrastructure
// components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple
// goroutines.
package api
