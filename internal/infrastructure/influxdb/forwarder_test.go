package influxdb

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/airlogic/turkov-bridge/internal/state"
)

type recordedReading struct {
	deviceID   string
	capability string
	value      float64
	observed   time.Time
}

type mockWriter struct {
	mu       sync.Mutex
	readings []recordedReading
}

func (m *mockWriter) WriteReading(deviceID, capability string, value float64, observed time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readings = append(m.readings, recordedReading{deviceID, capability, value, observed})
}

func (m *mockWriter) snapshot() []recordedReading {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]recordedReading, len(m.readings))
	copy(out, m.readings)
	return out
}

func waitForReadings(t *testing.T, w *mockWriter, want int) []recordedReading {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got := w.snapshot()
		if len(got) >= want {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d readings, have %d", want, len(w.snapshot()))
	return nil
}

func TestForwarder_NumericValuesForwarded(t *testing.T) {
	bus := state.NewBus()
	writer := &mockWriter{}
	fwd := NewForwarder(writer, bus, nil)

	fwd.Start(context.Background())
	defer fwd.Stop()

	observed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	bus.Publish(state.Event{
		Kind:      state.EventChange,
		DeviceID:  "dev1",
		Values:    map[string]any{"out_temp": 21.5},
		Timestamp: observed,
	})

	readings := waitForReadings(t, writer, 1)
	r := readings[0]
	if r.deviceID != "dev1" || r.capability != "out_temp" || r.value != 21.5 {
		t.Errorf("reading = %+v", r)
	}
	if !r.observed.Equal(observed) {
		t.Errorf("observed = %v, want %v", r.observed, observed)
	}
}

func TestForwarder_SkipsNonNumericValues(t *testing.T) {
	bus := state.NewBus()
	writer := &mockWriter{}
	fwd := NewForwarder(writer, bus, nil)

	fwd.Start(context.Background())
	defer fwd.Stop()

	bus.Publish(state.Event{
		Kind:     state.EventChange,
		DeviceID: "dev1",
		Values: map[string]any{
			"mode":     "heating",
			"on":       true,
			"humidity": 44.0,
		},
		Timestamp: time.Now(),
	})

	readings := waitForReadings(t, writer, 1)
	if len(readings) != 1 {
		t.Fatalf("expected only the numeric value, got %d readings", len(readings))
	}
	if readings[0].capability != "humidity" {
		t.Errorf("capability = %q, want humidity", readings[0].capability)
	}
}

func TestForwarder_IgnoresNonChangeEvents(t *testing.T) {
	bus := state.NewBus()
	writer := &mockWriter{}
	fwd := NewForwarder(writer, bus, nil)

	fwd.Start(context.Background())
	defer fwd.Stop()

	bus.Publish(state.Event{
		Kind:      state.EventStale,
		DeviceID:  "dev1",
		Values:    map[string]any{"out_temp": 21.5},
		Timestamp: time.Now(),
	})
	bus.Publish(state.Event{
		Kind:      state.EventChange,
		DeviceID:  "dev1",
		Values:    map[string]any{"out_temp": 22.0},
		Timestamp: time.Now(),
	})

	readings := waitForReadings(t, writer, 1)
	if len(readings) != 1 {
		t.Fatalf("expected 1 reading, got %d", len(readings))
	}
	if readings[0].value != 22.0 {
		t.Errorf("value = %v, want 22.0 from the change event", readings[0].value)
	}
}

func TestForwarder_StopIsIdempotent(t *testing.T) {
	bus := state.NewBus()
	fwd := NewForwarder(&mockWriter{}, bus, nil)

	fwd.Start(context.Background())
	fwd.Stop()
	fwd.Stop()
}
