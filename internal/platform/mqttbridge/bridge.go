package mqttbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/airlogic/turkov-bridge/internal/channel"
	"github.com/airlogic/turkov-bridge/internal/device"
	"github.com/airlogic/turkov-bridge/internal/engine"
	"github.com/airlogic/turkov-bridge/internal/infrastructure/mqtt"
	"github.com/airlogic/turkov-bridge/internal/state"
)

// commandQoS is the QoS for command and ack traffic.
const commandQoS = 1

// Logger defines the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Engine is the consumer surface the bridge drives. Implemented by
// engine.Engine; narrowed here so tests can substitute it.
type Engine interface {
	State(deviceID string) (state.Snapshot, error)
	Dispatch(ctx context.Context, deviceID, capability string, value any) (engine.Command, error)
	SubscribeAll() (<-chan state.Event, func())
}

// Broker is the MQTT surface the bridge uses. Implemented by
// mqtt.Client.
type Broker interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	PublishRetained(topic string, payload []byte) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// Bridge connects the engine's consumer surface to the host platform
// over MQTT: snapshots out on state topics, corrections and transitions
// out on event topics, commands in with per-command acknowledgments.
type Bridge struct {
	engine Engine
	broker Broker
	logger Logger

	cancelEvents func()
	wg           sync.WaitGroup
	mu           sync.Mutex
	started      bool
}

// New creates a platform bridge.
func New(eng Engine, broker Broker, logger Logger) *Bridge {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Bridge{
		engine: eng,
		broker: broker,
		logger: logger,
	}
}

// Start subscribes to the command topic and begins pumping engine events
// to the platform. Returns after the subscription is established.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return nil
	}

	if err := b.broker.Subscribe(commandTopicFilter, commandQoS, b.handleCommandMessage); err != nil {
		return fmt.Errorf("subscribing to command topic: %w", err)
	}

	events, cancel := b.engine.SubscribeAll()
	b.cancelEvents = cancel

	b.wg.Add(1)
	go b.pumpEvents(ctx, events)

	b.started = true
	b.logger.Info("platform bridge started", "command_topic", commandTopicFilter)
	return nil
}

// Stop ends the event pump. The MQTT client owns the connection; this
// only releases the bridge's subscription to the engine bus.
func (b *Bridge) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started {
		return
	}
	b.cancelEvents()
	b.wg.Wait()
	b.started = false
	b.logger.Info("platform bridge stopped")
}

// pumpEvents forwards engine events to the platform until the bus
// subscription closes or the context ends.
func (b *Bridge) pumpEvents(ctx context.Context, events <-chan state.Event) {
	defer b.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			b.forwardEvent(ev)
		}
	}
}

func (b *Bridge) forwardEvent(ev state.Event) {
	switch ev.Kind {
	case state.EventChange:
		b.publishState(ev.DeviceID)

	case state.EventCorrection:
		// Corrections update the retained snapshot and get their own
		// event so the platform can surface the override.
		b.publishState(ev.DeviceID)
		b.publishEvent(ev)

	case state.EventStale, state.EventReachability:
		b.publishState(ev.DeviceID)
		b.publishEvent(ev)
	}
}

// publishState publishes the device's full current snapshot, retained.
func (b *Bridge) publishState(deviceID string) {
	snap, err := b.engine.State(deviceID)
	if err != nil {
		// Device removed between event and read; nothing to publish.
		b.logger.Debug("snapshot unavailable for state publish", "device", deviceID, "error", err)
		return
	}

	msg := StateMessage{
		DeviceID:    deviceID,
		Timestamp:   snap.Timestamp,
		Values:      snap.Values,
		Channel:     string(snap.Channel),
		Stale:       snap.Stale,
		Provisional: snap.Provisional,
		Corrected:   snap.Corrected,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error("encoding state message", "device", deviceID, "error", err)
		return
	}

	if err := b.broker.PublishRetained(fmt.Sprintf(stateTopicFmt, deviceID), payload); err != nil {
		b.logger.Warn("publishing state", "device", deviceID, "error", err)
	}
}

func (b *Bridge) publishEvent(ev state.Event) {
	msg := EventMessage{
		Kind:      string(ev.Kind),
		DeviceID:  ev.DeviceID,
		Timestamp: ev.Timestamp,
		Values:    ev.Values,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error("encoding event message", "device", ev.DeviceID, "error", err)
		return
	}

	if err := b.broker.Publish(fmt.Sprintf(eventTopicFmt, ev.DeviceID), payload, commandQoS, false); err != nil {
		b.logger.Warn("publishing event", "device", ev.DeviceID, "error", err)
	}
}

// handleCommandMessage decodes an inbound platform command, dispatches
// it and publishes the acknowledgment. Every received command gets
// exactly one ack.
func (b *Bridge) handleCommandMessage(topic string, payload []byte) error {
	deviceID := deviceIDFromTopic(topic)
	if deviceID == "" {
		return fmt.Errorf("command topic %q carries no device id", topic)
	}

	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.ack(AckMessage{
			CommandID: cmd.ID,
			DeviceID:  deviceID,
			Status:    AckRejected,
			Error:     "malformed command payload",
		})
		return fmt.Errorf("decoding command: %w", err)
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}

	result, err := b.engine.Dispatch(context.Background(), deviceID, cmd.Capability, cmd.Value)

	ack := AckMessage{
		CommandID:  cmd.ID,
		DeviceID:   deviceID,
		Capability: cmd.Capability,
		Channel:    string(result.Channel),
	}
	switch {
	case err == nil:
		ack.Status = AckAccepted
	case errors.Is(err, engine.ErrCommandFailed), errors.Is(err, channel.ErrConnectivity):
		ack.Status = AckFailed
		ack.Error = err.Error()
	case errors.Is(err, device.ErrDeviceNotFound),
		errors.Is(err, device.ErrUnsupportedCapability),
		errors.Is(err, device.ErrValueRejected),
		errors.Is(err, channel.ErrCommandRejected):
		ack.Status = AckRejected
		ack.Error = err.Error()
	default:
		ack.Status = AckFailed
		ack.Error = err.Error()
	}

	b.ack(ack)
	return nil
}

func (b *Bridge) ack(msg AckMessage) {
	msg.Timestamp = time.Now().UTC()
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error("encoding ack message", "device", msg.DeviceID, "error", err)
		return
	}
	if err := b.broker.Publish(fmt.Sprintf(ackTopicFmt, msg.DeviceID), payload, commandQoS, false); err != nil {
		b.logger.Warn("publishing ack", "device", msg.DeviceID, "error", err)
	}
}

// deviceIDFromTopic extracts the device id from turkov/command/{device}.
func deviceIDFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != topicPrefix || parts[1] != "command" {
		return ""
	}
	return parts[2]
}
