package device

import "time"

// ChannelName identifies the transport a value travelled over.
type ChannelName string

// Channel constants.
const (
	ChannelCloud ChannelName = "cloud"
	ChannelLocal ChannelName = "local"
	ChannelNone  ChannelName = ""
)

// Device represents a single ventilation unit known to the bridge.
//
// Devices are discovered through the vendor cloud account and, where a LAN
// address is configured, can additionally be reached directly. A Device is
// owned by the Registry; everything except the reachability flags is fixed
// at discovery time.
type Device struct {
	// Identity (from cloud discovery)
	ID           string `json:"id"`
	Name         string `json:"name"`
	Type         string `json:"type"` // e.g. "Zenit", "Capsule", "i-Vent"
	SerialNumber string `json:"serial_number,omitempty"`
	PIN          string `json:"pin,omitempty"`

	// Metadata
	FirmwareVersion string `json:"firmware_version,omitempty"`
	ImageURL        string `json:"image_url,omitempty"`

	// Local endpoint (empty host means cloud-only)
	LocalHost string `json:"local_host,omitempty"`
	LocalPort int    `json:"local_port,omitempty"`

	// Capabilities advertised for this device type. Append-only during
	// a session; a capability never disappears mid-session.
	Capabilities []Capability `json:"capabilities"`

	// Reachability flags, updated by the poller and dispatcher.
	CloudReachable bool `json:"cloud_reachable"`
	LocalReachable bool `json:"local_reachable"`

	// Timestamps
	DiscoveredAt time.Time `json:"discovered_at"`
}

// HasLocal reports whether a LAN endpoint is configured for the device.
func (d *Device) HasLocal() bool {
	return d.LocalHost != ""
}

// Capability looks up a capability by name.
func (d *Device) Capability(name string) (Capability, bool) {
	for _, c := range d.Capabilities {
		if c.Name == name {
			return c, true
		}
	}
	return Capability{}, false
}

// DeepCopy creates a complete independent copy of the Device.
// Slice fields are cloned so modifications to the copy do not affect the
// original. This is essential for cache isolation.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}

	cpy := *d

	if d.Capabilities != nil {
		cpy.Capabilities = make([]Capability, len(d.Capabilities))
		for i, c := range d.Capabilities {
			cpy.Capabilities[i] = c.clone()
		}
	}

	return &cpy
}

// State is an immutable snapshot of a device's capability values.
//
// Values maps capability names to decoded values (bool, float64 or string).
// Within a device's history snapshot timestamps are non-decreasing; the
// cache rejects commits that would violate this.
type State struct {
	Values    map[string]any `json:"values"`
	Timestamp time.Time      `json:"timestamp"`
	Channel   ChannelName    `json:"channel"`
}

// Value returns the decoded value for a capability name.
func (s State) Value(name string) (any, bool) {
	v, ok := s.Values[name]
	return v, ok
}

// Clone returns an independent copy of the snapshot.
func (s State) Clone() State {
	cpy := s
	if s.Values != nil {
		cpy.Values = make(map[string]any, len(s.Values))
		for k, v := range s.Values {
			cpy.Values[k] = v
		}
	}
	return cpy
}
