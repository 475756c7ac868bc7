package state

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/airlogic/turkov-bridge/internal/device"
)

// defaultNoiseThreshold is the minimum numeric delta treated as a real
// change. Sensor readings jitter in the last scaled digit; deltas below
// this are not reported as changes (the stored value still updates).
const defaultNoiseThreshold = 0.1

// Snapshot is the consumer-facing view of a device's cached state:
// confirmed values overlaid with any provisional (optimistic) writes.
type Snapshot struct {
	// Values maps capability names to canonical values. Provisional
	// writes shadow the last confirmed value until the next commit.
	Values map[string]any

	// Timestamp is when the confirmed values were observed.
	Timestamp time.Time

	// Channel is the channel that produced the confirmed values.
	Channel device.ChannelName

	// Stale is set when the snapshot's age exceeded the freshness
	// threshold without a successful refresh.
	Stale bool

	// Provisional lists capability names carrying an optimistic value
	// not yet confirmed by a device report.
	Provisional []string

	// Corrected lists capability names whose provisional value was
	// contradicted by the latest commit. Cleared by the next commit.
	Corrected []string
}

// CommitResult describes the effect of committing a device report.
type CommitResult struct {
	// Applied is false when the report was discarded as out of date
	// (older than the stored snapshot).
	Applied bool

	// Changed maps capability names to their new values, for values
	// that differed from the previous snapshot beyond the noise
	// threshold. First-time values always count as changed.
	Changed map[string]any

	// Corrected maps capability names to the device-reported value for
	// provisional writes the device did not confirm.
	Corrected map[string]any
}

type entry struct {
	state       device.State
	provisional map[string]any
	corrected   map[string]struct{}
	stale       bool
}

// Cache holds the latest known state per device. It is the single source
// consumers read from; channels never serve reads directly.
//
// Thread Safety: all methods are safe for concurrent use. Returned
// snapshots are deep copies and never alias internal storage.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*entry
	noise   float64
}

// NewCache creates an empty state cache. A non-positive noise threshold
// selects the default.
func NewCache(noiseThreshold float64) *Cache {
	if noiseThreshold <= 0 {
		noiseThreshold = defaultNoiseThreshold
	}
	return &Cache{
		entries: make(map[string]*entry),
		noise:   noiseThreshold,
	}
}

// Commit merges a device report into the cache. Reports older than the
// stored snapshot are discarded so a slow channel cannot roll back a
// newer observation. Provisional values touched by the report are either
// confirmed silently or reported back as corrections.
func (c *Cache) Commit(deviceID string, s device.State) CommitResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[deviceID]
	if !ok {
		e = &entry{provisional: make(map[string]any)}
		c.entries[deviceID] = e
	}

	if !e.state.Timestamp.IsZero() && s.Timestamp.Before(e.state.Timestamp) {
		return CommitResult{}
	}

	result := CommitResult{
		Applied:   true,
		Changed:   make(map[string]any),
		Corrected: make(map[string]any),
	}

	e.corrected = nil
	for name, v := range s.Values {
		prev, had := e.state.Values[name]
		if !had || !c.valuesEqual(prev, v) {
			result.Changed[name] = v
		}

		if want, pending := e.provisional[name]; pending {
			if !c.valuesEqual(want, v) {
				result.Corrected[name] = v
				if e.corrected == nil {
					e.corrected = make(map[string]struct{})
				}
				e.corrected[name] = struct{}{}
			}
			delete(e.provisional, name)
		}
	}

	// Provisional writes for capabilities the report omitted entirely
	// stay pending until a report carries them.

	e.state = s.Clone()
	e.stale = false
	return result
}

// ApplyOptimistic records an accepted command's value as provisional.
// Readers see it immediately; the next commit either confirms it or
// replaces it with the device's actual value.
func (c *Cache) ApplyOptimistic(deviceID, capability string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[deviceID]
	if !ok {
		e = &entry{provisional: make(map[string]any)}
		c.entries[deviceID] = e
	}
	e.provisional[capability] = value
}

// MarkStale flags a device's snapshot as stale. Returns true when the
// flag transitioned, so callers can emit the transition exactly once.
func (c *Cache) MarkStale(deviceID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[deviceID]
	if !ok || e.stale {
		return false
	}
	e.stale = true
	return true
}

// Get returns the device's snapshot, or false when the device has never
// committed state.
func (c *Cache) Get(deviceID string) (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[deviceID]
	if !ok {
		return Snapshot{}, false
	}
	return e.snapshot(), true
}

// Age returns how old the device's confirmed snapshot is, or false when
// no state has been committed.
func (c *Cache) Age(deviceID string, now time.Time) (time.Duration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[deviceID]
	if !ok || e.state.Timestamp.IsZero() {
		return 0, false
	}
	return now.Sub(e.state.Timestamp), true
}

// Remove drops a device's cached state.
func (c *Cache) Remove(deviceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, deviceID)
}

func (e *entry) snapshot() Snapshot {
	snap := Snapshot{
		Values:    make(map[string]any, len(e.state.Values)+len(e.provisional)),
		Timestamp: e.state.Timestamp,
		Channel:   e.state.Channel,
		Stale:     e.stale,
	}
	for k, v := range e.state.Values {
		snap.Values[k] = v
	}
	for k, v := range e.provisional {
		snap.Values[k] = v
		snap.Provisional = append(snap.Provisional, k)
	}
	sort.Strings(snap.Provisional)
	for k := range e.corrected {
		snap.Corrected = append(snap.Corrected, k)
	}
	sort.Strings(snap.Corrected)
	return snap
}

// valuesEqual compares canonical values, absorbing sensor jitter below
// the noise threshold for numbers.
func (c *Cache) valuesEqual(a, b any) bool {
	af, aok := a.(float64)
	bf, bok := b.(float64)
	if aok && bok {
		return math.Abs(af-bf) < c.noise
	}
	return a == b
}
