package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/airlogic/turkov-bridge/internal/channel"
	"github.com/airlogic/turkov-bridge/internal/device"
	"github.com/airlogic/turkov-bridge/internal/infrastructure/config"
	"github.com/airlogic/turkov-bridge/internal/state"
)

// Logger defines the logging interface used by the engine.
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

// CloudChannel is the cloud transport plus its discovery role.
type CloudChannel interface {
	channel.Channel
	channel.Discoverer
}

// LocalChannel is the LAN transport plus its reachability probe.
type LocalChannel interface {
	channel.Channel
	channel.Prober
}

// Engine owns the per-device poll workers, the command dispatch path and
// the registry synchronisation loop. It is the only surface consumers
// touch: reads come from the cache, writes go through Dispatch, and
// everything else is internal.
type Engine struct {
	cfg      config.Config
	registry *device.Registry
	cache    *state.Cache
	bus      *state.Bus
	cloud    CloudChannel
	local    LocalChannel // nil when no local endpoints are configured
	locks    *deviceLocks
	limiter  limiter
	logger   Logger

	mu      sync.Mutex
	workers map[string]context.CancelFunc
	started bool
	stopped bool

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

// Options configures an Engine.
type Options struct {
	Config   config.Config
	Registry *device.Registry
	Cache    *state.Cache
	Bus      *state.Bus
	Cloud    CloudChannel

	// Local is optional; nil disables the LAN path entirely.
	Local LocalChannel

	// Logger is the structured logger. Optional.
	Logger Logger
}

// New creates an engine. Start must be called before the poll and
// discovery loops run; the consumer surface works immediately against
// whatever the registry and cache already hold.
func New(opts Options) (*Engine, error) {
	if opts.Registry == nil || opts.Cache == nil || opts.Bus == nil {
		return nil, fmt.Errorf("engine: registry, cache and bus are required")
	}
	if opts.Cloud == nil {
		return nil, fmt.Errorf("engine: cloud channel is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	return &Engine{
		cfg:      opts.Config,
		registry: opts.Registry,
		cache:    opts.Cache,
		bus:      opts.Bus,
		cloud:    opts.Cloud,
		local:    opts.Local,
		locks:    newDeviceLocks(),
		limiter:  newLimiter(opts.Config.Limiter.MaxConcurrent),
		logger:   logger,
		workers:  make(map[string]context.CancelFunc),
	}, nil
}

// Start runs an initial discovery, spawns poll workers for every known
// device and begins the periodic registry refresh. Returns once the
// initial sync has been attempted; a failed first discovery is logged,
// not fatal, since restored devices can still poll.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started || e.stopped {
		e.mu.Unlock()
		return ErrStopped
	}
	e.started = true
	e.runCtx, e.runCancel = context.WithCancel(context.WithoutCancel(ctx))
	e.mu.Unlock()

	if err := e.refreshRegistry(ctx); err != nil {
		e.logger.Warn("initial discovery failed, continuing with restored devices", "error", err)
	}

	// Devices restored from the store but absent from a failed first
	// discovery still get workers.
	for _, id := range e.registry.IDs() {
		e.startWorker(id)
	}

	e.wg.Add(1)
	go e.discoveryLoop()

	e.logger.Info("engine started", "devices", e.registry.Count())
	return nil
}

// Stop cancels every worker and the discovery loop, then waits for them
// to drain.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started || e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	cancel := e.runCancel
	e.mu.Unlock()

	cancel()
	e.wg.Wait()
	e.logger.Info("engine stopped")
}

// discoveryLoop re-fetches the cloud device list on the registry refresh
// interval, starting and stopping workers as devices come and go.
func (e *Engine) discoveryLoop() {
	defer e.wg.Done()

	ticker := newTicker(e.cfg.Registry.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.runCtx.Done():
			return
		case <-ticker.C:
		}

		if err := e.refreshRegistry(e.runCtx); err != nil {
			e.logger.Warn("device discovery failed", "error", err)
		}
	}
}

// refreshRegistry fetches the device list, attaches configured local
// endpoints and reconciles the registry, cascading worker and cache
// lifecycle from the diff.
func (e *Engine) refreshRegistry(ctx context.Context) error {
	if err := e.limiter.acquire(ctx); err != nil {
		return fmt.Errorf("%w: %w", channel.ErrConnectivity, err)
	}
	discovered, err := e.cloud.ListDevices(ctx)
	e.limiter.release()
	if err != nil {
		return err
	}

	for i := range discovered {
		host, port, ok := e.localEndpoint(discovered[i].SerialNumber)
		if ok {
			discovered[i].LocalHost = host
			discovered[i].LocalPort = port
		}
	}

	diff := e.registry.Sync(ctx, discovered)

	for _, id := range diff.Removed {
		e.stopWorker(id)
		// Holding the device lock serialises the removal with any
		// exchange already in flight, so the cache entry cannot outlive
		// the device.
		lock := e.locks.get(id)
		lock.Lock()
		e.cache.Remove(id)
		lock.Unlock()
		e.locks.drop(id)
		e.logger.Info("device removed", "device", id)
	}
	for _, id := range diff.Added {
		e.startWorker(id)
		e.logger.Info("device added", "device", id)
	}

	return nil
}

// localEndpoint resolves a configured LAN address for a serial number.
// Entries may carry an explicit port; the default local port applies
// otherwise.
func (e *Engine) localEndpoint(serial string) (string, int, bool) {
	addr, ok := e.cfg.Local.Hosts[serial]
	if !ok || addr == "" {
		return "", 0, false
	}

	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, e.cfg.Local.Port, true
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return host, e.cfg.Local.Port, true
	}
	return host, port, true
}

func (e *Engine) startWorker(deviceID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return
	}
	if _, running := e.workers[deviceID]; running {
		return
	}

	ctx, cancel := context.WithCancel(e.runCtx)
	e.workers[deviceID] = cancel

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.pollWorker(ctx, deviceID)
	}()
}

func (e *Engine) stopWorker(deviceID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if cancel, ok := e.workers[deviceID]; ok {
		cancel()
		delete(e.workers, deviceID)
	}
}

// State returns a device's cached snapshot. ErrStateUnknown means the
// device exists but has never completed a successful poll; stale data is
// not an error.
func (e *Engine) State(deviceID string) (state.Snapshot, error) {
	if _, err := e.registry.Get(deviceID); err != nil {
		return state.Snapshot{}, err
	}
	snap, ok := e.cache.Get(deviceID)
	if !ok {
		return state.Snapshot{}, ErrStateUnknown
	}
	return snap, nil
}

// Capabilities returns a device's advertised capability set.
func (e *Engine) Capabilities(deviceID string) ([]device.Capability, error) {
	dev, err := e.registry.Get(deviceID)
	if err != nil {
		return nil, err
	}
	return dev.Capabilities, nil
}

// Devices lists the registry's current devices.
func (e *Engine) Devices() []device.Device {
	return e.registry.List()
}

// Subscribe streams events for one device.
func (e *Engine) Subscribe(deviceID string) (<-chan state.Event, func()) {
	return e.bus.Subscribe(deviceID)
}

// SubscribeAll streams events for every device.
func (e *Engine) SubscribeAll() (<-chan state.Event, func()) {
	return e.bus.SubscribeAll()
}

// IsUnknownDevice reports whether err identifies a device missing from
// the registry.
func IsUnknownDevice(err error) bool {
	return errors.Is(err, device.ErrDeviceNotFound)
}

func newTicker(interval time.Duration) *time.Ticker {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return time.NewTicker(interval)
}
