package mqttbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/airlogic/turkov-bridge/internal/channel"
	"github.com/airlogic/turkov-bridge/internal/device"
	"github.com/airlogic/turkov-bridge/internal/engine"
	"github.com/airlogic/turkov-bridge/internal/infrastructure/mqtt"
	"github.com/airlogic/turkov-bridge/internal/state"
)

type published struct {
	topic    string
	payload  []byte
	retained bool
}

// mockBroker records publishes and captures the command handler.
type mockBroker struct {
	mu       sync.Mutex
	messages []published
	handler  mqtt.MessageHandler
}

func (m *mockBroker) Publish(topic string, payload []byte, _ byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, published{topic, payload, retained})
	return nil
}

func (m *mockBroker) PublishRetained(topic string, payload []byte) error {
	return m.Publish(topic, payload, 1, true)
}

func (m *mockBroker) Subscribe(_ string, _ byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = handler
	return nil
}

func (m *mockBroker) onTopic(topic string) []published {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []published
	for _, msg := range m.messages {
		if msg.topic == topic {
			out = append(out, msg)
		}
	}
	return out
}

// mockEngine scripts the consumer surface.
type mockEngine struct {
	mu          sync.Mutex
	snapshot    state.Snapshot
	snapshotErr error
	dispatchErr error
	dispatched  []string
	bus         *state.Bus
}

func (m *mockEngine) State(_ string) (state.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot, m.snapshotErr
}

func (m *mockEngine) Dispatch(_ context.Context, deviceID, capability string, _ any) (engine.Command, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dispatched = append(m.dispatched, deviceID+"/"+capability)
	cmd := engine.Command{DeviceID: deviceID, Capability: capability, Channel: device.ChannelCloud}
	if m.dispatchErr != nil {
		cmd.Outcome = engine.OutcomeFailed
		return cmd, m.dispatchErr
	}
	cmd.Outcome = engine.OutcomeAck
	return cmd, nil
}

func (m *mockEngine) SubscribeAll() (<-chan state.Event, func()) {
	return m.bus.SubscribeAll()
}

func newTestBridge(t *testing.T) (*Bridge, *mockEngine, *mockBroker) {
	t.Helper()
	eng := &mockEngine{
		bus: state.NewBus(),
		snapshot: state.Snapshot{
			Values:    map[string]any{device.CapPower: true},
			Timestamp: time.Now().UTC(),
			Channel:   device.ChannelCloud,
		},
	}
	broker := &mockBroker{}
	b := New(eng, broker, nil)
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(b.Stop)
	return b, eng, broker
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestBridge_ChangePublishesRetainedState(t *testing.T) {
	_, eng, broker := newTestBridge(t)

	eng.bus.Publish(state.Event{
		Kind:     state.EventChange,
		DeviceID: "dev1",
		Values:   map[string]any{device.CapPower: true},
	})

	waitFor(t, func() bool { return len(broker.onTopic("turkov/state/dev1")) > 0 })

	msgs := broker.onTopic("turkov/state/dev1")
	if !msgs[0].retained {
		t.Error("state message not retained")
	}

	var sm StateMessage
	if err := json.Unmarshal(msgs[0].payload, &sm); err != nil {
		t.Fatalf("decoding state message: %v", err)
	}
	if sm.DeviceID != "dev1" || sm.Values[device.CapPower] != true {
		t.Errorf("state message = %+v", sm)
	}
}

func TestBridge_CorrectionPublishesEvent(t *testing.T) {
	_, eng, broker := newTestBridge(t)

	eng.bus.Publish(state.Event{
		Kind:      state.EventCorrection,
		DeviceID:  "dev1",
		Values:    map[string]any{device.CapMode: device.ModeOff},
		Timestamp: time.Now().UTC(),
	})

	waitFor(t, func() bool { return len(broker.onTopic("turkov/event/dev1")) > 0 })

	var em EventMessage
	if err := json.Unmarshal(broker.onTopic("turkov/event/dev1")[0].payload, &em); err != nil {
		t.Fatalf("decoding event message: %v", err)
	}
	if em.Kind != "correction" || em.Values[device.CapMode] != device.ModeOff {
		t.Errorf("event message = %+v", em)
	}
	// The retained snapshot is refreshed as well.
	if len(broker.onTopic("turkov/state/dev1")) == 0 {
		t.Error("correction did not refresh the retained state")
	}
}

func TestBridge_CommandDispatchAndAck(t *testing.T) {
	_, eng, broker := newTestBridge(t)

	payload, _ := json.Marshal(CommandMessage{
		ID:         "cmd-1",
		Capability: device.CapTargetTemp,
		Value:      22.0,
	})
	if err := broker.handler("turkov/command/dev1", payload); err != nil {
		t.Fatalf("command handler error = %v", err)
	}

	if len(eng.dispatched) != 1 || eng.dispatched[0] != "dev1/target_temperature" {
		t.Errorf("dispatched = %v", eng.dispatched)
	}

	acks := broker.onTopic("turkov/ack/dev1")
	if len(acks) != 1 {
		t.Fatalf("ack count = %d, want 1", len(acks))
	}
	var ack AckMessage
	if err := json.Unmarshal(acks[0].payload, &ack); err != nil {
		t.Fatalf("decoding ack: %v", err)
	}
	if ack.CommandID != "cmd-1" || ack.Status != AckAccepted {
		t.Errorf("ack = %+v", ack)
	}
}

func TestBridge_CommandAckStatuses(t *testing.T) {
	tests := []struct {
		name       string
		dispatch   error
		wantStatus AckStatus
	}{
		{"unknown device", device.ErrDeviceNotFound, AckRejected},
		{"unsupported capability", device.ErrUnsupportedCapability, AckRejected},
		{"value rejected", device.ErrValueRejected, AckRejected},
		{"device refused", channel.ErrCommandRejected, AckRejected},
		{"all channels failed", fmt.Errorf("%w: timeout", engine.ErrCommandFailed), AckFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, eng, broker := newTestBridge(t)
			eng.dispatchErr = tt.dispatch

			payload, _ := json.Marshal(CommandMessage{Capability: device.CapPower, Value: true})
			broker.handler("turkov/command/dev1", payload)

			acks := broker.onTopic("turkov/ack/dev1")
			if len(acks) != 1 {
				t.Fatalf("ack count = %d, want exactly 1", len(acks))
			}
			var ack AckMessage
			json.Unmarshal(acks[0].payload, &ack)
			if ack.Status != tt.wantStatus {
				t.Errorf("ack status = %q, want %q", ack.Status, tt.wantStatus)
			}
			if ack.Error == "" {
				t.Error("ack carries no error description")
			}
			if ack.CommandID == "" {
				t.Error("ack missing generated command id")
			}
		})
	}
}

func TestBridge_MalformedCommandStillAcked(t *testing.T) {
	_, eng, broker := newTestBridge(t)

	if err := broker.handler("turkov/command/dev1", []byte("not json")); err == nil {
		t.Error("handler accepted malformed payload")
	}

	if len(eng.dispatched) != 0 {
		t.Error("malformed command reached the engine")
	}
	acks := broker.onTopic("turkov/ack/dev1")
	if len(acks) != 1 {
		t.Fatalf("ack count = %d, want 1 rejection", len(acks))
	}
	var ack AckMessage
	json.Unmarshal(acks[0].payload, &ack)
	if ack.Status != AckRejected {
		t.Errorf("ack status = %q, want rejected", ack.Status)
	}
}

func TestDeviceIDFromTopic(t *testing.T) {
	tests := []struct {
		topic string
		want  string
	}{
		{"turkov/command/dev1", "dev1"},
		{"turkov/command/", ""},
		{"turkov/state/dev1", ""},
		{"other/command/dev1", ""},
		{"dev1", ""},
	}
	for _, tt := range tests {
		if got := deviceIDFromTopic(tt.topic); got != tt.want {
			t.Errorf("deviceIDFromTopic(%q) = %q, want %q", tt.topic, got, tt.want)
		}
	}
}
