package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/airlogic/turkov-bridge/internal/channel"
	"github.com/airlogic/turkov-bridge/internal/device"
	"github.com/airlogic/turkov-bridge/internal/state"
)

// Outcome is a command's terminal result.
type Outcome string

// Command outcomes. Every dispatch terminates in exactly one.
const (
	OutcomeAck      Outcome = "ack"
	OutcomeFailed   Outcome = "failed"
	OutcomeRejected Outcome = "rejected"
)

// Command records one dispatched control intent.
type Command struct {
	ID         string             `json:"id"`
	DeviceID   string             `json:"device_id"`
	Capability string             `json:"capability"`
	Value      any                `json:"value"`
	IssuedAt   time.Time          `json:"issued_at"`
	Channel    device.ChannelName `json:"channel"`
	Outcome    Outcome            `json:"outcome"`
	Error      string             `json:"error,omitempty"`
}

// Dispatch validates and executes a control intent against a device.
//
// Validation happens before any channel is touched: the device must
// exist, the capability must be present and writable, and the value must
// pass the capability's constraints. The command then runs under the
// device's lock, so it waits for an in-flight poll to finish and blocks
// the next poll until it resolves.
//
// Channel selection matches the poller: local when the probe succeeds,
// cloud otherwise. A connectivity failure earns exactly one retry on the
// alternate channel; rejection by the device is never retried.
//
// On acknowledgement the written value is applied to the cache as
// provisional and a change notification fires; the next poll confirms or
// corrects it.
func (e *Engine) Dispatch(ctx context.Context, deviceID, capability string, value any) (Command, error) {
	cmd := Command{
		ID:         uuid.NewString(),
		DeviceID:   deviceID,
		Capability: capability,
		IssuedAt:   time.Now().UTC(),
	}

	dev, err := e.registry.Get(deviceID)
	if err != nil {
		cmd.Outcome = OutcomeRejected
		cmd.Error = err.Error()
		return cmd, err
	}

	capDef, ok := dev.Capability(capability)
	if !ok || !capDef.Writable {
		err := fmt.Errorf("%w: %s", device.ErrUnsupportedCapability, capability)
		cmd.Outcome = OutcomeRejected
		cmd.Error = err.Error()
		return cmd, err
	}

	canonical, err := device.ValidateValue(capDef, value)
	if err != nil {
		cmd.Outcome = OutcomeRejected
		cmd.Error = err.Error()
		return cmd, err
	}
	cmd.Value = canonical

	// Commands wait for an in-flight poll; polls skip while we hold this.
	lock := e.locks.get(deviceID)
	lock.Lock()
	defer lock.Unlock()

	// The device may have been removed while we waited.
	dev, err = e.registry.Get(deviceID)
	if err != nil {
		cmd.Outcome = OutcomeRejected
		cmd.Error = err.Error()
		return cmd, err
	}

	ch, alternate := e.selectChannels(ctx, dev)
	cmd.Channel = ch.Name()

	err = e.sendOn(ctx, ch, dev, capDef.Key, canonical)
	if err != nil && errors.Is(err, channel.ErrConnectivity) && alternate != nil {
		e.setReachability(deviceID, ch.Name(), false)
		e.logger.Warn("command failed, retrying on alternate channel",
			"device", deviceID, "capability", capability,
			"failed_channel", ch.Name(), "error", err)
		cmd.Channel = alternate.Name()
		err = e.sendOn(ctx, alternate, dev, capDef.Key, canonical)
	}

	if err != nil {
		if errors.Is(err, channel.ErrCommandRejected) || errors.Is(err, device.ErrValueRejected) {
			cmd.Outcome = OutcomeRejected
			cmd.Error = err.Error()
			return cmd, err
		}
		cmd.Outcome = OutcomeFailed
		cmd.Error = err.Error()
		e.logger.Error("command failed on all channels",
			"device", deviceID, "capability", capability, "error", err)
		return cmd, fmt.Errorf("%w: %w", ErrCommandFailed, err)
	}

	// The device may have been removed while the command was in flight.
	// The acknowledgement stands, but nothing may land in the cache or on
	// the bus for a removed id.
	if _, regErr := e.registry.Get(deviceID); regErr != nil {
		cmd.Outcome = OutcomeAck
		e.logger.Info("command acknowledged for removed device",
			"device", deviceID, "capability", capability)
		return cmd, nil
	}

	e.setReachability(deviceID, cmd.Channel, true)
	e.cache.ApplyOptimistic(deviceID, capability, canonical)
	e.bus.Publish(state.Event{
		Kind:      state.EventChange,
		DeviceID:  deviceID,
		Channel:   cmd.Channel,
		Values:    map[string]any{capability: canonical},
		Timestamp: time.Now().UTC(),
	})

	cmd.Outcome = OutcomeAck
	e.logger.Info("command acknowledged",
		"device", deviceID, "capability", capability, "channel", cmd.Channel)
	return cmd, nil
}

// sendOn executes one command attempt with the per-call budget, holding a
// limiter slot for cloud calls.
func (e *Engine) sendOn(ctx context.Context, ch channel.Channel, dev *device.Device, key string, value any) error {
	if ch.Name() == device.ChannelCloud {
		if err := e.limiter.acquire(ctx); err != nil {
			return fmt.Errorf("%w: %w", channel.ErrConnectivity, err)
		}
		defer e.limiter.release()
	}

	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout(ch.Name()))
	defer cancel()

	return ch.SendCommand(callCtx, dev, key, value)
}

// selectChannels picks the channel for this cycle and the alternate for a
// connectivity retry. Local wins when the probe succeeds, with cloud as
// the retry path. A failed probe rules the LAN endpoint out for the whole
// cycle, so cloud runs with no alternate.
func (e *Engine) selectChannels(ctx context.Context, dev *device.Device) (primary, alternate channel.Channel) {
	if e.local != nil && dev.HasLocal() && e.local.Probe(ctx, dev) {
		return e.local, e.cloud
	}
	return e.cloud, nil
}

func (e *Engine) callTimeout(ch device.ChannelName) time.Duration {
	if ch == device.ChannelLocal && e.cfg.Local.Timeout > 0 {
		return e.cfg.Local.Timeout
	}
	if e.cfg.Cloud.Timeout > 0 {
		return e.cfg.Cloud.Timeout
	}
	return 15 * time.Second
}
