package state

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/airlogic/turkov-bridge/internal/device"
)

// EventKind classifies a state notification.
type EventKind string

// Event kinds.
const (
	// EventChange reports capability values that changed on a device.
	EventChange EventKind = "change"

	// EventCorrection reports provisional values the device rejected or
	// overrode; Values carries what the device actually holds.
	EventCorrection EventKind = "correction"

	// EventStale reports that a device's snapshot aged past the
	// freshness threshold without a successful refresh.
	EventStale EventKind = "stale"

	// EventReachability reports a change in a device's channel
	// reachability; Values carries "channel" and "reachable".
	EventReachability EventKind = "reachability"
)

// Event is a single state notification.
type Event struct {
	Kind      EventKind          `json:"kind"`
	DeviceID  string             `json:"device_id"`
	Channel   device.ChannelName `json:"channel,omitempty"`
	Values    map[string]any     `json:"values,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// defaultSubscriberBuffer is the per-subscriber channel depth.
const defaultSubscriberBuffer = 64

type subscriber struct {
	deviceID string // empty means all devices
	ch       chan Event
}

// Bus fans state events out to subscribers. Delivery is best effort: a
// subscriber that stops draining its channel loses events rather than
// blocking publishers, since publishers sit on the poll path.
//
// Thread Safety: all methods are safe for concurrent use.
type Bus struct {
	mu      sync.RWMutex
	subs    map[int]*subscriber
	nextID  int
	dropped atomic.Uint64
}

// NewBus creates an event bus with no subscribers.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]*subscriber)}
}

// Subscribe registers for events about a single device. The returned
// cancel function removes the subscription and closes the channel.
func (b *Bus) Subscribe(deviceID string) (<-chan Event, func()) {
	return b.subscribe(deviceID)
}

// SubscribeAll registers for events about every device.
func (b *Bus) SubscribeAll() (<-chan Event, func()) {
	return b.subscribe("")
}

func (b *Bus) subscribe(deviceID string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	sub := &subscriber{deviceID: deviceID, ch: make(chan Event, defaultSubscriberBuffer)}
	b.subs[id] = sub

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if s, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(s.ch)
		}
	}
	return sub.ch, cancel
}

// Publish delivers an event to matching subscribers, dropping it for any
// subscriber whose buffer is full.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if sub.deviceID != "" && sub.deviceID != ev.DeviceID {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns how many events were discarded due to full subscriber
// buffers. Exposed for health reporting.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
