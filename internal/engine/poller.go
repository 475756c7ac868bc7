package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/airlogic/turkov-bridge/internal/channel"
	"github.com/airlogic/turkov-bridge/internal/device"
	"github.com/airlogic/turkov-bridge/internal/state"
)

// deferredPollDelay is how long a worker waits before re-attempting a
// poll it skipped because a command held the device lock. Short, so the
// deferred poll lands soon after the command resolves.
const deferredPollDelay = 500 * time.Millisecond

// pollWorker is the per-device refresh loop. One goroutine per device,
// started when the device enters the registry and cancelled when it
// leaves. The first poll runs immediately; subsequent polls run on the
// configured interval, stretched by exponential backoff while the device
// is failing.
func (e *Engine) pollWorker(ctx context.Context, deviceID string) {
	interval := e.cfg.Poll.Interval
	backoff := e.cfg.Poll.EffectiveBackoffInitial()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		lock := e.locks.get(deviceID)
		if !lock.TryLock() {
			// A command is in flight; the poll is deferred, not dropped.
			timer.Reset(deferredPollDelay)
			continue
		}
		err := e.pollOnce(ctx, deviceID)
		lock.Unlock()

		switch {
		case err == nil:
			backoff = e.cfg.Poll.EffectiveBackoffInitial()
			timer.Reset(interval)

		case errors.Is(err, device.ErrDeviceNotFound), errors.Is(err, context.Canceled):
			return

		case errors.Is(err, channel.ErrAuth):
			// Credentials are bad; hammering the sign-in endpoint will
			// not fix them. Hold at the backoff cap until they change.
			e.logger.Error("cloud polling suspended, authentication failing",
				"device", deviceID, "retry_in", e.cfg.Poll.BackoffMax, "error", err)
			timer.Reset(e.cfg.Poll.BackoffMax)

		default:
			e.logger.Warn("poll failed",
				"device", deviceID, "retry_in", backoff, "error", err)
			timer.Reset(backoff)
			backoff *= 2
			if backoff > e.cfg.Poll.BackoffMax {
				backoff = e.cfg.Poll.BackoffMax
			}
		}
	}
}

// pollOnce refreshes one device's snapshot via the best available
// channel. Called with the device lock held.
func (e *Engine) pollOnce(ctx context.Context, deviceID string) error {
	dev, err := e.registry.Get(deviceID)
	if err != nil {
		return err
	}

	ch, _ := e.selectChannels(ctx, dev)

	snapshot, err := e.fetchOn(ctx, ch, dev)

	// The device may have been removed while the fetch was in flight;
	// nothing from this exchange may land for it afterwards.
	if _, regErr := e.registry.Get(deviceID); regErr != nil {
		return regErr
	}

	if err != nil {
		e.setReachability(deviceID, ch.Name(), false)
		e.markStaleIfAged(deviceID)
		return err
	}

	e.setReachability(deviceID, ch.Name(), true)

	result := e.cache.Commit(deviceID, snapshot)
	if !result.Applied {
		// A snapshot from a slower exchange arrived out of order; the
		// cache kept the newer one.
		e.logger.Debug("out of date snapshot discarded", "device", deviceID)
		return nil
	}

	if len(result.Changed) > 0 {
		e.bus.Publish(state.Event{
			Kind:      state.EventChange,
			DeviceID:  deviceID,
			Channel:   snapshot.Channel,
			Values:    result.Changed,
			Timestamp: snapshot.Timestamp,
		})
	}
	if len(result.Corrected) > 0 {
		e.logger.Info("optimistic values corrected by device report",
			"device", deviceID, "capabilities", len(result.Corrected))
		e.bus.Publish(state.Event{
			Kind:      state.EventCorrection,
			DeviceID:  deviceID,
			Channel:   snapshot.Channel,
			Values:    result.Corrected,
			Timestamp: snapshot.Timestamp,
		})
	}

	return nil
}

// fetchOn executes one state fetch with the per-call budget, holding a
// limiter slot for cloud calls.
func (e *Engine) fetchOn(ctx context.Context, ch channel.Channel, dev *device.Device) (device.State, error) {
	if ch.Name() == device.ChannelCloud {
		if err := e.limiter.acquire(ctx); err != nil {
			return device.State{}, fmt.Errorf("%w: %w", channel.ErrConnectivity, err)
		}
		defer e.limiter.release()
	}

	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout(ch.Name()))
	defer cancel()

	return ch.FetchState(callCtx, dev)
}

// setReachability records the flag on the registry and publishes a
// reachability event when it transitions. Repeat outcomes on the same
// channel stay silent.
func (e *Engine) setReachability(deviceID string, ch device.ChannelName, reachable bool) {
	if !e.registry.SetReachability(deviceID, ch, reachable) {
		return
	}
	e.bus.Publish(state.Event{
		Kind:      state.EventReachability,
		DeviceID:  deviceID,
		Channel:   ch,
		Values:    map[string]any{"channel": string(ch), "reachable": reachable},
		Timestamp: time.Now().UTC(),
	})
}

// markStaleIfAged flags the device's snapshot once its age crosses the
// freshness threshold. The last-known value stays readable either way.
func (e *Engine) markStaleIfAged(deviceID string) {
	age, ok := e.cache.Age(deviceID, time.Now())
	if !ok || age < e.cfg.Poll.EffectiveFreshnessThreshold() {
		return
	}
	if e.cache.MarkStale(deviceID) {
		e.logger.Warn("device snapshot stale", "device", deviceID, "age", age.Round(time.Second))
		e.bus.Publish(state.Event{
			Kind:      state.EventStale,
			DeviceID:  deviceID,
			Timestamp: time.Now().UTC(),
		})
	}
}
