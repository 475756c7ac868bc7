package device

import (
	"context"
	"fmt"
	"sync"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Store persists the discovered device list between runs.
// The bridge core owns no on-disk format itself; the surrounding
// application supplies an implementation (SQLite in cmd/turkovbridge).
// It is optional - if nil, the registry is purely in-memory.
type Store interface {
	// SaveDevices replaces the persisted device list.
	SaveDevices(ctx context.Context, devices []Device) error

	// LoadDevices returns the persisted device list.
	LoadDevices(ctx context.Context) ([]Device, error)
}

// Registry is the authoritative mapping from device id to Device.
//
// It is populated by synchronising against the cloud discovery call and
// optionally restored from a Store before the first sync succeeds. All
// public methods are thread-safe; returned devices are deep copies.
type Registry struct {
	devices map[string]*Device
	mu      sync.RWMutex

	store  Store
	logger Logger
}

// Diff describes the outcome of a registry synchronisation.
type Diff struct {
	Added   []string
	Updated []string
	Removed []string
}

// NewRegistry creates a new device registry.
// The store may be nil for a purely in-memory registry.
func NewRegistry(store Store) *Registry {
	return &Registry{
		devices: make(map[string]*Device),
		store:   store,
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Restore loads the persisted device list into the registry.
// Called on startup so last-known devices are usable before the first
// successful cloud discovery. No-op without a store.
func (r *Registry) Restore(ctx context.Context) error {
	if r.store == nil {
		return nil
	}

	devices, err := r.store.LoadDevices(ctx)
	if err != nil {
		return fmt.Errorf("loading persisted devices: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range devices {
		d := devices[i]
		r.devices[d.ID] = d.DeepCopy()
	}

	r.logger.Info("device registry restored", "count", len(devices))
	return nil
}

// Sync replaces the registry contents with a freshly discovered device
// list and reports what changed. Devices absent from the new list are
// removed; existing devices keep their reachability flags and any
// configured local endpoint. Capability sets are treated as append-only:
// a capability present before the sync is never dropped mid-session.
func (r *Registry) Sync(ctx context.Context, discovered []Device) Diff {
	r.mu.Lock()

	var diff Diff
	seen := make(map[string]bool, len(discovered))

	for i := range discovered {
		d := discovered[i]
		if d.ID == "" {
			r.logger.Warn("discovery returned device without id", "name", d.Name)
			continue
		}
		seen[d.ID] = true

		existing, ok := r.devices[d.ID]
		if !ok {
			r.devices[d.ID] = d.DeepCopy()
			diff.Added = append(diff.Added, d.ID)
			r.logger.Info("device discovered", "id", d.ID, "name", d.Name, "type", d.Type)
			continue
		}

		merged := d.DeepCopy()
		merged.CloudReachable = existing.CloudReachable
		merged.LocalReachable = existing.LocalReachable
		if merged.LocalHost == "" {
			merged.LocalHost = existing.LocalHost
			merged.LocalPort = existing.LocalPort
		}
		merged.Capabilities = mergeCapabilities(existing.Capabilities, merged.Capabilities)
		if merged.DiscoveredAt.IsZero() {
			merged.DiscoveredAt = existing.DiscoveredAt
		}

		r.devices[d.ID] = merged
		diff.Updated = append(diff.Updated, d.ID)
	}

	for id := range r.devices {
		if !seen[id] {
			delete(r.devices, id)
			diff.Removed = append(diff.Removed, id)
			r.logger.Info("device removed", "id", id)
		}
	}

	snapshot := r.listLocked()
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.SaveDevices(ctx, snapshot); err != nil {
			r.logger.Error("persisting device list failed", "error", err)
		}
	}

	return diff
}

// mergeCapabilities keeps every previously known capability while adopting
// the new set. New capabilities append; known ones keep their position.
func mergeCapabilities(old, next []Capability) []Capability {
	merged := make([]Capability, 0, len(old)+len(next))
	have := make(map[string]bool, len(old))

	for _, c := range old {
		merged = append(merged, c.clone())
		have[c.Name] = true
	}
	for _, c := range next {
		if !have[c.Name] {
			merged = append(merged, c.clone())
		}
	}
	return merged
}

// Get retrieves a device by ID.
// Returns ErrDeviceNotFound if the device does not exist.
// The returned device is a deep copy; callers can safely modify it.
func (r *Registry) Get(id string) (*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.devices[id]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	return d.DeepCopy(), nil
}

// List retrieves all devices.
// The returned devices are deep copies; callers can safely modify them.
func (r *Registry) List() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listLocked()
}

func (r *Registry) listLocked() []Device {
	devices := make([]Device, 0, len(r.devices))
	for _, d := range r.devices {
		devices = append(devices, *d.DeepCopy())
	}
	return devices
}

// IDs returns the ids of all known devices.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.devices))
	for id := range r.devices {
		ids = append(ids, id)
	}
	return ids
}

// Count returns the number of known devices.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// SetReachability updates a device's per-channel reachability flag and
// reports whether the flag actually changed. These flags are the only
// mutable Device fields after discovery.
func (r *Registry) SetReachability(id string, channel ChannelName, reachable bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok {
		return false
	}

	updated := d.DeepCopy()
	switch channel {
	case ChannelCloud:
		if d.CloudReachable == reachable {
			return false
		}
		updated.CloudReachable = reachable
	case ChannelLocal:
		if d.LocalReachable == reachable {
			return false
		}
		updated.LocalReachable = reachable
	default:
		return false
	}
	r.devices[id] = updated

	r.logger.Debug("device reachability updated",
		"id", id, "channel", string(channel), "reachable", reachable)
	return true
}

// AttachLocalEndpoint associates a LAN address with a device, matched by
// serial number from configuration. Returns true if a device matched.
func (r *Registry) AttachLocalEndpoint(serial, host string, port int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, d := range r.devices {
		if d.SerialNumber != serial {
			continue
		}
		updated := d.DeepCopy()
		updated.LocalHost = host
		updated.LocalPort = port
		r.devices[id] = updated
		r.logger.Info("local endpoint attached", "id", id, "host", host)
		return true
	}
	return false
}

// Stats returns registry statistics for monitoring.
type Stats struct {
	TotalDevices   int
	ByType         map[string]int
	LocalReachable int
	CloudReachable int
}

// GetStats returns current registry statistics.
func (r *Registry) GetStats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{
		TotalDevices: len(r.devices),
		ByType:       make(map[string]int),
	}

	for _, d := range r.devices {
		stats.ByType[d.Type]++
		if d.LocalReachable {
			stats.LocalReachable++
		}
		if d.CloudReachable {
			stats.CloudReachable++
		}
	}

	return stats
}
