// Package mqtt wraps paho.mqtt.golang for the platform bridge.
//
// It provides connection lifecycle management, publish/subscribe with
// automatic re-subscription after reconnects, and a retained
// online/offline status on turkov/bridge/status backed by a Last Will,
// so the host platform can tell a crashed bridge from a stopped one.
//
// Topic construction and message shapes live in the platform bridge
// package; this package only moves bytes.
package mqtt
