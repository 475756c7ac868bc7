// Package mqttbridge connects the bridge core to the host platform over
// MQTT.
//
// Outbound, it forwards the engine's event stream: every committed
// change republishes the device's full snapshot, retained, on
// turkov/state/{device}; corrections, staleness and reachability
// transitions additionally publish on turkov/event/{device}. Retained
// state means a platform that reconnects sees current values without
// waiting for the next poll.
//
// Inbound, it consumes turkov/command/{device} and dispatches through
// the engine's validated command path. Every received command produces
// exactly one acknowledgment on turkov/ack/{device}, carrying the
// terminal outcome and the transport that served it.
package mqttbridge
