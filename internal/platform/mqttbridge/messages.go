package mqttbridge

import (
	"time"
)

// MQTT message types exchanged with the host platform.

// Topic layout. Device-scoped topics embed the cloud device id.
const (
	topicPrefix = "turkov"

	// stateTopicFmt carries the full snapshot, retained. turkov/state/{device}
	stateTopicFmt = topicPrefix + "/state/%s"

	// eventTopicFmt carries corrections, staleness and reachability
	// transitions, not retained. turkov/event/{device}
	eventTopicFmt = topicPrefix + "/event/%s"

	// commandTopic is the inbound command subscription.
	commandTopicFmt    = topicPrefix + "/command/%s"
	commandTopicFilter = topicPrefix + "/command/+"

	// ackTopicFmt carries command acknowledgments. turkov/ack/{device}
	ackTopicFmt = topicPrefix + "/ack/%s"
)

// StateMessage is published on every committed change.
// Topic: turkov/state/{device}, QoS 1, retained.
type StateMessage struct {
	// DeviceID is the cloud device identifier.
	DeviceID string `json:"device_id"`

	// Timestamp is when the snapshot was observed (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Values maps capability names to current values, provisional
	// writes included.
	Values map[string]any `json:"values"`

	// Channel is which transport produced the snapshot.
	Channel string `json:"channel,omitempty"`

	// Stale marks a snapshot older than the freshness threshold.
	Stale bool `json:"stale"`

	// Provisional lists capabilities carrying an unconfirmed optimistic
	// value.
	Provisional []string `json:"provisional,omitempty"`

	// Corrected lists capabilities whose optimistic value the device
	// overrode in the latest report.
	Corrected []string `json:"corrected,omitempty"`
}

// EventMessage is published for corrections, staleness and reachability
// transitions. Topic: turkov/event/{device}, not retained.
type EventMessage struct {
	// Kind is the event kind: "correction", "stale" or "reachability".
	Kind string `json:"kind"`

	// DeviceID is the cloud device identifier.
	DeviceID string `json:"device_id"`

	// Timestamp is when the event occurred (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Values carries kind-specific data: corrected capability values,
	// or channel/reachable flags.
	Values map[string]any `json:"values,omitempty"`
}

// CommandMessage is received from the platform to execute a control
// intent. Topic: turkov/command/{device}.
type CommandMessage struct {
	// ID correlates the command with its acknowledgment. Optional; one
	// is generated when absent.
	ID string `json:"id,omitempty"`

	// Capability is the canonical capability name to write.
	Capability string `json:"capability"`

	// Value is the desired value.
	Value any `json:"value"`
}

// AckStatus is a command's terminal acknowledgment status.
type AckStatus string

const (
	// AckAccepted indicates the command was acknowledged by the device.
	AckAccepted AckStatus = "accepted"

	// AckRejected indicates validation or the device refused the value.
	AckRejected AckStatus = "rejected"

	// AckFailed indicates every channel attempt failed.
	AckFailed AckStatus = "failed"
)

// AckMessage is published for every received command.
// Topic: turkov/ack/{device}.
type AckMessage struct {
	// CommandID is the ID from the original command.
	CommandID string `json:"command_id"`

	// Timestamp is when the acknowledgment was sent (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// DeviceID is the cloud device identifier.
	DeviceID string `json:"device_id"`

	// Capability is the capability the command targeted.
	Capability string `json:"capability"`

	// Status is the terminal outcome.
	Status AckStatus `json:"status"`

	// Channel is the transport that carried an accepted command.
	Channel string `json:"channel,omitempty"`

	// Error describes a rejected or failed command.
	Error string `json:"error,omitempty"`
}
