package influxdb

import (
	"context"
	"sync"
	"time"

	"github.com/airlogic/turkov-bridge/internal/state"
)

// Writer is the sink surface the forwarder writes to. Implemented by
// Client; narrowed so tests can substitute it.
type Writer interface {
	WriteReading(deviceID, capability string, value float64, observed time.Time)
}

// Logger defines the logging interface used by the forwarder.
type Logger interface {
	Info(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}

// Forwarder subscribes to the notification bus and forwards numeric
// readings from change events to the telemetry sink. Only live values
// flow through; the bridge core keeps no history of its own.
type Forwarder struct {
	writer Writer
	bus    *state.Bus
	logger Logger

	cancel func()
	wg     sync.WaitGroup
	mu     sync.Mutex
	run    bool
}

// NewForwarder creates a telemetry forwarder.
func NewForwarder(writer Writer, bus *state.Bus, logger Logger) *Forwarder {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Forwarder{
		writer: writer,
		bus:    bus,
		logger: logger,
	}
}

// Start begins forwarding change events.
func (f *Forwarder) Start(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.run {
		return
	}

	events, cancel := f.bus.SubscribeAll()
	f.cancel = cancel
	f.run = true

	f.wg.Add(1)
	go f.pump(ctx, events)

	f.logger.Info("telemetry forwarding started")
}

// Stop ends forwarding. Pending batched writes are the client's concern.
func (f *Forwarder) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.run {
		return
	}
	f.cancel()
	f.wg.Wait()
	f.run = false
}

func (f *Forwarder) pump(ctx context.Context, events <-chan state.Event) {
	defer f.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Kind != state.EventChange {
				continue
			}
			f.forward(ev)
		}
	}
}

// forward writes the numeric values from one change event. Non-numeric
// capabilities (modes, names, switches) have no place in a time series
// and are skipped.
func (f *Forwarder) forward(ev state.Event) {
	observed := ev.Timestamp
	if observed.IsZero() {
		observed = time.Now().UTC()
	}

	for capability, value := range ev.Values {
		num, ok := value.(float64)
		if !ok {
			continue
		}
		f.writer.WriteReading(ev.DeviceID, capability, num, observed)
	}
}
