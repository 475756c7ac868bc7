package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/airlogic/turkov-bridge/internal/channel"
	"github.com/airlogic/turkov-bridge/internal/device"
	"github.com/airlogic/turkov-bridge/internal/infrastructure/config"
	"github.com/airlogic/turkov-bridge/internal/state"
)

type sentCommand struct {
	deviceID string
	key      string
	value    any
}

// mockCloud implements CloudChannel with scripted responses. The
// optional began/gate channel pairs let a test hold an exchange in
// flight while it manipulates the engine from outside.
type mockCloud struct {
	mu         sync.Mutex
	devices    []device.Device
	listErr    error
	state      device.State
	fetchErr   error
	sendErr    error
	sent       []sentCommand
	fetchCalls int
	sendCalls  int

	fetchBegan chan struct{}
	fetchGate  chan struct{}
	sendBegan  chan struct{}
	sendGate   chan struct{}
}

func (m *mockCloud) Name() device.ChannelName { return device.ChannelCloud }

func (m *mockCloud) ListDevices(_ context.Context) ([]device.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]device.Device, len(m.devices))
	copy(out, m.devices)
	return out, nil
}

func (m *mockCloud) FetchState(_ context.Context, _ *device.Device) (device.State, error) {
	m.mu.Lock()
	m.fetchCalls++
	st, err := m.state.Clone(), m.fetchErr
	began, gate := m.fetchBegan, m.fetchGate
	m.mu.Unlock()

	if began != nil {
		began <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	if err != nil {
		return device.State{}, err
	}
	return st, nil
}

func (m *mockCloud) SendCommand(_ context.Context, dev *device.Device, key string, value any) error {
	m.mu.Lock()
	m.sendCalls++
	err := m.sendErr
	began, gate := m.sendBegan, m.sendGate
	m.mu.Unlock()

	if began != nil {
		began <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.sent = append(m.sent, sentCommand{dev.ID, key, value})
	m.mu.Unlock()
	return nil
}

func (m *mockCloud) counts() (fetch, send int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetchCalls, m.sendCalls
}

// mockLocal implements LocalChannel with scripted responses.
type mockLocal struct {
	mockCloud
	probeOK bool
}

func (m *mockLocal) Name() device.ChannelName { return device.ChannelLocal }

func (m *mockLocal) Probe(_ context.Context, _ *device.Device) bool {
	return m.probeOK
}

func testDevice(id string) device.Device {
	return device.Device{
		ID:           id,
		Name:         "Test " + id,
		Type:         "Zenit",
		SerialNumber: "SN-" + id,
		LocalHost:    "192.168.1.40",
		LocalPort:    80,
		Capabilities: device.CapabilitiesForType("Zenit"),
	}
}

func testConfig() config.Config {
	return config.Config{
		Cloud: config.CloudConfig{Timeout: time.Second},
		Local: config.LocalConfig{Port: 80, Timeout: time.Second},
		Poll: config.PollConfig{
			Interval:   100 * time.Millisecond,
			BackoffMax: time.Second,
		},
		Registry: config.RegistryConfig{RefreshInterval: time.Hour},
		Limiter:  config.LimiterConfig{MaxConcurrent: 2},
	}
}

func newTestEngine(t *testing.T, cloud *mockCloud, local *mockLocal) (*Engine, *device.Registry, *state.Cache, *state.Bus) {
	t.Helper()

	registry := device.NewRegistry(nil)
	cache := state.NewCache(0)
	bus := state.NewBus()

	opts := Options{
		Config:   testConfig(),
		Registry: registry,
		Cache:    cache,
		Bus:      bus,
		Cloud:    cloud,
	}
	if local != nil {
		opts.Local = local
	}

	e, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return e, registry, cache, bus
}

func syncDevices(t *testing.T, registry *device.Registry, devices ...device.Device) {
	t.Helper()
	registry.Sync(context.Background(), devices)
}

func TestDispatch_UnknownDevice(t *testing.T) {
	cloud := &mockCloud{}
	e, _, _, _ := newTestEngine(t, cloud, nil)

	cmd, err := e.Dispatch(context.Background(), "ghost", device.CapPower, true)
	if !errors.Is(err, device.ErrDeviceNotFound) {
		t.Fatalf("Dispatch() error = %v, want ErrDeviceNotFound", err)
	}
	if cmd.Outcome != OutcomeRejected {
		t.Errorf("outcome = %q, want rejected", cmd.Outcome)
	}
	if _, send := cloud.counts(); send != 0 {
		t.Error("unknown device reached a channel")
	}
}

func TestDispatch_UnsupportedCapability(t *testing.T) {
	tests := []struct {
		name       string
		capability string
	}{
		{"absent capability", "target_humidity"}, // Zenit has no humidifier
		{"read-only capability", device.CapOutdoorTemp},
		{"made-up capability", "warp_drive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cloud := &mockCloud{}
			e, registry, _, _ := newTestEngine(t, cloud, nil)
			syncDevices(t, registry, testDevice("dev1"))

			_, err := e.Dispatch(context.Background(), "dev1", tt.capability, 50.0)
			if !errors.Is(err, device.ErrUnsupportedCapability) {
				t.Fatalf("Dispatch() error = %v, want ErrUnsupportedCapability", err)
			}
			if _, send := cloud.counts(); send != 0 {
				t.Error("rejected capability reached a channel")
			}
		})
	}
}

func TestDispatch_ValueRejectedBeforeChannel(t *testing.T) {
	cloud := &mockCloud{}
	e, registry, _, _ := newTestEngine(t, cloud, nil)
	syncDevices(t, registry, testDevice("dev1"))

	// temp_sp range is 15-50.
	_, err := e.Dispatch(context.Background(), "dev1", device.CapTargetTemp, 99.0)
	if !errors.Is(err, device.ErrValueRejected) {
		t.Fatalf("Dispatch() error = %v, want ErrValueRejected", err)
	}
	if _, send := cloud.counts(); send != 0 {
		t.Error("out of range value reached a channel")
	}
}

func TestDispatch_AckAppliesOptimisticUpdate(t *testing.T) {
	cloud := &mockCloud{}
	e, registry, cache, _ := newTestEngine(t, cloud, nil)
	syncDevices(t, registry, testDevice("dev1"))

	cache.Commit("dev1", device.State{
		Values:    map[string]any{device.CapMode: device.ModeCooling},
		Timestamp: time.Now(),
		Channel:   device.ChannelCloud,
	})

	cmd, err := e.Dispatch(context.Background(), "dev1", device.CapMode, device.ModeHeating)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if cmd.Outcome != OutcomeAck {
		t.Errorf("outcome = %q, want ack", cmd.Outcome)
	}
	if len(cloud.sent) != 1 || cloud.sent[0].key != "mode" || cloud.sent[0].value != device.ModeHeating {
		t.Errorf("sent = %+v", cloud.sent)
	}

	snap, err := e.State("dev1")
	if err != nil {
		t.Fatalf("State() error = %v", err)
	}
	if snap.Values[device.CapMode] != device.ModeHeating {
		t.Errorf("mode = %v, want optimistic value visible immediately", snap.Values[device.CapMode])
	}
	if len(snap.Provisional) != 1 || snap.Provisional[0] != device.CapMode {
		t.Errorf("provisional = %v, want [mode]", snap.Provisional)
	}
}

func TestDispatch_CrossChannelRetryOnConnectivity(t *testing.T) {
	cloud := &mockCloud{}
	local := &mockLocal{probeOK: true}
	local.sendErr = fmt.Errorf("%w: connection refused", channel.ErrConnectivity)

	e, registry, _, _ := newTestEngine(t, cloud, local)
	syncDevices(t, registry, testDevice("dev1"))

	cmd, err := e.Dispatch(context.Background(), "dev1", device.CapPower, true)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if cmd.Channel != device.ChannelCloud {
		t.Errorf("final channel = %q, want cloud after local failure", cmd.Channel)
	}

	_, localSends := local.counts()
	_, cloudSends := cloud.counts()
	if localSends != 1 || cloudSends != 1 {
		t.Errorf("sends local=%d cloud=%d, want exactly one each", localSends, cloudSends)
	}
}

func TestDispatch_FailedOnBothChannels(t *testing.T) {
	connErr := fmt.Errorf("%w: timeout", channel.ErrConnectivity)
	cloud := &mockCloud{sendErr: connErr}
	local := &mockLocal{probeOK: true}
	local.sendErr = connErr

	e, registry, _, _ := newTestEngine(t, cloud, local)
	syncDevices(t, registry, testDevice("dev1"))

	cmd, err := e.Dispatch(context.Background(), "dev1", device.CapPower, true)
	if !errors.Is(err, ErrCommandFailed) {
		t.Fatalf("Dispatch() error = %v, want ErrCommandFailed", err)
	}
	if cmd.Outcome != OutcomeFailed {
		t.Errorf("outcome = %q, want failed", cmd.Outcome)
	}

	// At most one attempt per channel, no retry loop.
	_, localSends := local.counts()
	_, cloudSends := cloud.counts()
	if localSends != 1 || cloudSends != 1 {
		t.Errorf("sends local=%d cloud=%d, want exactly one each", localSends, cloudSends)
	}
}

func TestDispatch_NoRetryOnUnprobedLocal(t *testing.T) {
	cloud := &mockCloud{sendErr: fmt.Errorf("%w: timeout", channel.ErrConnectivity)}
	local := &mockLocal{probeOK: false}

	e, registry, _, _ := newTestEngine(t, cloud, local)
	syncDevices(t, registry, testDevice("dev1"))

	cmd, err := e.Dispatch(context.Background(), "dev1", device.CapPower, true)
	if !errors.Is(err, ErrCommandFailed) {
		t.Fatalf("Dispatch() error = %v, want ErrCommandFailed", err)
	}
	if cmd.Outcome != OutcomeFailed {
		t.Errorf("outcome = %q, want failed", cmd.Outcome)
	}

	// The endpoint whose probe failed is not a retry path this cycle.
	_, localSends := local.counts()
	if localSends != 0 {
		t.Errorf("local sends = %d, want 0 after failed probe", localSends)
	}
}

func TestDispatch_RejectionNeverRetried(t *testing.T) {
	local := &mockLocal{probeOK: true}
	local.sendErr = fmt.Errorf("%w: value refused", channel.ErrCommandRejected)
	cloud := &mockCloud{}

	e, registry, _, _ := newTestEngine(t, cloud, local)
	syncDevices(t, registry, testDevice("dev1"))

	cmd, err := e.Dispatch(context.Background(), "dev1", device.CapPower, true)
	if !errors.Is(err, channel.ErrCommandRejected) {
		t.Fatalf("Dispatch() error = %v, want ErrCommandRejected", err)
	}
	if cmd.Outcome != OutcomeRejected {
		t.Errorf("outcome = %q, want rejected", cmd.Outcome)
	}
	if _, cloudSends := cloud.counts(); cloudSends != 0 {
		t.Error("rejection was retried on the alternate channel")
	}
}

func TestPoll_ChannelPreference(t *testing.T) {
	cloud := &mockCloud{}
	local := &mockLocal{probeOK: true}
	local.state = device.State{
		Values:    map[string]any{device.CapPower: true},
		Timestamp: time.Now(),
		Channel:   device.ChannelLocal,
	}

	e, registry, _, _ := newTestEngine(t, cloud, local)
	syncDevices(t, registry, testDevice("dev1"))

	if err := e.pollOnce(context.Background(), "dev1"); err != nil {
		t.Fatalf("pollOnce() error = %v", err)
	}

	localFetches, _ := local.counts()
	cloudFetches, _ := cloud.counts()
	if localFetches != 1 {
		t.Errorf("local fetches = %d, want 1", localFetches)
	}
	if cloudFetches != 0 {
		t.Errorf("cloud fetches = %d, want 0 while probe succeeds", cloudFetches)
	}
}

func TestPoll_FallsBackToCloudWhenProbeFails(t *testing.T) {
	cloud := &mockCloud{state: device.State{
		Values:    map[string]any{device.CapPower: true},
		Timestamp: time.Now(),
		Channel:   device.ChannelCloud,
	}}
	local := &mockLocal{probeOK: false}

	e, registry, _, _ := newTestEngine(t, cloud, local)
	syncDevices(t, registry, testDevice("dev1"))

	if err := e.pollOnce(context.Background(), "dev1"); err != nil {
		t.Fatalf("pollOnce() error = %v", err)
	}

	localFetches, _ := local.counts()
	cloudFetches, _ := cloud.counts()
	if localFetches != 0 || cloudFetches != 1 {
		t.Errorf("fetches local=%d cloud=%d, want cloud only", localFetches, cloudFetches)
	}
}

func TestPoll_CommitsAndNotifies(t *testing.T) {
	cloud := &mockCloud{state: device.State{
		Values:    map[string]any{device.CapPower: true, device.CapIndoorTemp: 22.4},
		Timestamp: time.Now(),
		Channel:   device.ChannelCloud,
	}}

	e, registry, _, bus := newTestEngine(t, cloud, nil)
	syncDevices(t, registry, testDevice("dev1"))

	events, cancel := bus.Subscribe("dev1")
	defer cancel()

	if err := e.pollOnce(context.Background(), "dev1"); err != nil {
		t.Fatalf("pollOnce() error = %v", err)
	}

	select {
	case ev := <-events:
		if ev.Kind != state.EventChange {
			t.Errorf("event kind = %q, want change", ev.Kind)
		}
		if len(ev.Values) != 2 {
			t.Errorf("event values = %v, want both capabilities", ev.Values)
		}
	default:
		t.Fatal("no change event published")
	}
}

func TestPoll_OptimisticCorrection(t *testing.T) {
	cloud := &mockCloud{}
	e, registry, cache, bus := newTestEngine(t, cloud, nil)
	syncDevices(t, registry, testDevice("dev1"))

	baseTime := time.Now()
	cache.Commit("dev1", device.State{
		Values:    map[string]any{device.CapMode: device.ModeCooling},
		Timestamp: baseTime,
		Channel:   device.ChannelCloud,
	})

	if _, err := e.Dispatch(context.Background(), "dev1", device.CapMode, device.ModeHeating); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	events, cancel := bus.Subscribe("dev1")
	defer cancel()

	// The device report disagrees with the optimistic write.
	cloud.mu.Lock()
	cloud.state = device.State{
		Values:    map[string]any{device.CapMode: device.ModeCooling},
		Timestamp: baseTime.Add(time.Second),
		Channel:   device.ChannelCloud,
	}
	cloud.mu.Unlock()

	if err := e.pollOnce(context.Background(), "dev1"); err != nil {
		t.Fatalf("pollOnce() error = %v", err)
	}

	snap, err := e.State("dev1")
	if err != nil {
		t.Fatalf("State() error = %v", err)
	}
	if snap.Values[device.CapMode] != device.ModeCooling {
		t.Errorf("mode = %v, want device value after correction", snap.Values[device.CapMode])
	}
	if len(snap.Provisional) != 0 {
		t.Errorf("provisional = %v, want cleared", snap.Provisional)
	}
	if len(snap.Corrected) != 1 || snap.Corrected[0] != device.CapMode {
		t.Errorf("corrected = %v, want [%s]", snap.Corrected, device.CapMode)
	}

	var sawCorrection bool
	for len(events) > 0 {
		if ev := <-events; ev.Kind == state.EventCorrection {
			sawCorrection = true
			if ev.Values[device.CapMode] != device.ModeCooling {
				t.Errorf("correction values = %v", ev.Values)
			}
		}
	}
	if !sawCorrection {
		t.Error("no correction event published")
	}
}

func TestPoll_FailureMarksReachabilityAndBacksOff(t *testing.T) {
	cloud := &mockCloud{fetchErr: fmt.Errorf("%w: timeout", channel.ErrConnectivity)}
	e, registry, cache, _ := newTestEngine(t, cloud, nil)
	syncDevices(t, registry, testDevice("dev1"))

	// Seed an old snapshot so the failure can flag staleness.
	cache.Commit("dev1", device.State{
		Values:    map[string]any{device.CapPower: true},
		Timestamp: time.Now().Add(-time.Hour),
		Channel:   device.ChannelCloud,
	})

	err := e.pollOnce(context.Background(), "dev1")
	if !errors.Is(err, channel.ErrConnectivity) {
		t.Fatalf("pollOnce() error = %v, want ErrConnectivity", err)
	}

	dev, _ := registry.Get("dev1")
	if dev.CloudReachable {
		t.Error("cloud still flagged reachable after failure")
	}

	snap, _ := cache.Get("dev1")
	if !snap.Stale {
		t.Error("aged snapshot not flagged stale after failed poll")
	}
	if snap.Values[device.CapPower] != true {
		t.Error("failure discarded the last-known value")
	}
}

func TestPoll_ReachabilityTransitionsPublished(t *testing.T) {
	cloud := &mockCloud{state: device.State{
		Values:    map[string]any{device.CapPower: true},
		Timestamp: time.Now(),
		Channel:   device.ChannelCloud,
	}}
	e, registry, _, bus := newTestEngine(t, cloud, nil)
	syncDevices(t, registry, testDevice("dev1"))

	events, cancel := bus.Subscribe("dev1")
	defer cancel()

	// First success flips the device reachable.
	if err := e.pollOnce(context.Background(), "dev1"); err != nil {
		t.Fatalf("pollOnce() error = %v", err)
	}

	// Two consecutive failures: one transition, then silence.
	cloud.mu.Lock()
	cloud.fetchErr = fmt.Errorf("%w: timeout", channel.ErrConnectivity)
	cloud.mu.Unlock()
	for i := 0; i < 2; i++ {
		if err := e.pollOnce(context.Background(), "dev1"); !errors.Is(err, channel.ErrConnectivity) {
			t.Fatalf("pollOnce() error = %v, want ErrConnectivity", err)
		}
	}

	var reach []state.Event
	for len(events) > 0 {
		if ev := <-events; ev.Kind == state.EventReachability {
			reach = append(reach, ev)
		}
	}
	if len(reach) != 2 {
		t.Fatalf("reachability events = %d, want one per transition", len(reach))
	}
	if reach[0].Values["reachable"] != true || reach[1].Values["reachable"] != false {
		t.Errorf("transitions = %v then %v, want reachable then unreachable",
			reach[0].Values, reach[1].Values)
	}
	if reach[0].Channel != device.ChannelCloud {
		t.Errorf("channel = %q, want cloud", reach[0].Channel)
	}
}

func TestState_UnknownBeforeFirstPoll(t *testing.T) {
	cloud := &mockCloud{}
	e, registry, _, _ := newTestEngine(t, cloud, nil)
	syncDevices(t, registry, testDevice("dev1"))

	if _, err := e.State("dev1"); !errors.Is(err, ErrStateUnknown) {
		t.Errorf("State() error = %v, want ErrStateUnknown", err)
	}
	if _, err := e.State("ghost"); !errors.Is(err, device.ErrDeviceNotFound) {
		t.Errorf("State() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestDispatch_WaitsForInFlightPoll(t *testing.T) {
	cloud := &mockCloud{}
	e, registry, _, _ := newTestEngine(t, cloud, nil)
	syncDevices(t, registry, testDevice("dev1"))

	// Simulate an in-flight poll holding the device lock.
	lock := e.locks.get("dev1")
	lock.Lock()

	done := make(chan Command, 1)
	go func() {
		cmd, _ := e.Dispatch(context.Background(), "dev1", device.CapPower, true)
		done <- cmd
	}()

	select {
	case <-done:
		t.Fatal("command executed while poll held the device lock")
	case <-time.After(50 * time.Millisecond):
	}
	if _, send := cloud.counts(); send != 0 {
		t.Fatal("command reached the channel while poll held the device lock")
	}

	lock.Unlock()

	select {
	case cmd := <-done:
		if cmd.Outcome != OutcomeAck {
			t.Errorf("outcome = %q, want ack after poll completed", cmd.Outcome)
		}
	case <-time.After(time.Second):
		t.Fatal("command never ran after lock release")
	}
}

func TestRefreshRegistry_RemovalCascades(t *testing.T) {
	cloud := &mockCloud{
		devices: []device.Device{testDevice("dev1"), testDevice("dev2")},
		state: device.State{
			Values:    map[string]any{device.CapPower: true},
			Timestamp: time.Now(),
			Channel:   device.ChannelCloud,
		},
	}
	e, registry, cache, _ := newTestEngine(t, cloud, nil)
	// Long interval so only the immediate startup poll runs.
	e.cfg.Poll.Interval = time.Hour

	ctx := context.Background()
	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer e.Stop()

	if registry.Count() != 2 {
		t.Fatalf("device count = %d, want 2 after discovery", registry.Count())
	}

	// Let the startup polls drain before reconfiguring the account.
	time.Sleep(50 * time.Millisecond)

	cache.Commit("dev2", cloud.state.Clone())

	// dev2 disappears from the account.
	cloud.mu.Lock()
	cloud.devices = []device.Device{testDevice("dev1")}
	cloud.mu.Unlock()

	if err := e.refreshRegistry(ctx); err != nil {
		t.Fatalf("refreshRegistry() error = %v", err)
	}

	if _, err := registry.Get("dev2"); !errors.Is(err, device.ErrDeviceNotFound) {
		t.Error("removed device still in registry")
	}
	if _, ok := cache.Get("dev2"); ok {
		t.Error("removed device still has a cache entry")
	}
	if _, err := e.State("dev2"); !errors.Is(err, device.ErrDeviceNotFound) {
		t.Error("State() still serves a removed device")
	}
}

func TestPoll_RemovalMidFlightDiscardsResult(t *testing.T) {
	cloud := &mockCloud{
		state: device.State{
			Values:    map[string]any{device.CapPower: true},
			Timestamp: time.Now(),
			Channel:   device.ChannelCloud,
		},
		fetchBegan: make(chan struct{}, 1),
		fetchGate:  make(chan struct{}),
	}
	e, registry, cache, bus := newTestEngine(t, cloud, nil)
	syncDevices(t, registry, testDevice("dev1"))

	events, cancel := bus.Subscribe("dev1")
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- e.pollOnce(context.Background(), "dev1")
	}()

	<-cloud.fetchBegan

	// The device disappears from the account while its fetch is in
	// flight; the refresh cascade drops its cache entry.
	registry.Sync(context.Background(), nil)
	cache.Remove("dev1")

	close(cloud.fetchGate)

	if err := <-done; !errors.Is(err, device.ErrDeviceNotFound) {
		t.Fatalf("pollOnce() error = %v, want ErrDeviceNotFound", err)
	}
	if _, ok := cache.Get("dev1"); ok {
		t.Error("in-flight poll re-created the removed device's cache entry")
	}
	select {
	case ev := <-events:
		t.Errorf("event %q published for removed device", ev.Kind)
	default:
	}
}

func TestDispatch_RemovalMidFlightSkipsCacheWrite(t *testing.T) {
	cloud := &mockCloud{
		sendBegan: make(chan struct{}, 1),
		sendGate:  make(chan struct{}),
	}
	e, registry, cache, bus := newTestEngine(t, cloud, nil)
	syncDevices(t, registry, testDevice("dev1"))

	events, cancel := bus.Subscribe("dev1")
	defer cancel()

	type result struct {
		cmd Command
		err error
	}
	done := make(chan result, 1)
	go func() {
		cmd, err := e.Dispatch(context.Background(), "dev1", device.CapPower, true)
		done <- result{cmd, err}
	}()

	<-cloud.sendBegan

	registry.Sync(context.Background(), nil)
	cache.Remove("dev1")

	close(cloud.sendGate)

	res := <-done
	if res.err != nil {
		t.Fatalf("Dispatch() error = %v", res.err)
	}
	if res.cmd.Outcome != OutcomeAck {
		t.Errorf("outcome = %q, want ack for a command the device accepted", res.cmd.Outcome)
	}
	if _, ok := cache.Get("dev1"); ok {
		t.Error("acknowledged command wrote state for a removed device")
	}
	select {
	case ev := <-events:
		t.Errorf("event %q published for removed device", ev.Kind)
	default:
	}
}

func TestRefreshRegistry_AttachesConfiguredLocalEndpoints(t *testing.T) {
	dev := testDevice("dev1")
	dev.LocalHost = ""
	dev.LocalPort = 0
	cloud := &mockCloud{devices: []device.Device{dev}}

	e, registry, _, _ := newTestEngine(t, cloud, nil)
	e.cfg.Local.Hosts = map[string]string{"SN-dev1": "192.168.1.77:8080"}

	if err := e.refreshRegistry(context.Background()); err != nil {
		t.Fatalf("refreshRegistry() error = %v", err)
	}

	got, err := registry.Get("dev1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.LocalHost != "192.168.1.77" || got.LocalPort != 8080 {
		t.Errorf("local endpoint = %s:%d, want 192.168.1.77:8080", got.LocalHost, got.LocalPort)
	}
}

func TestEngine_StartStop(t *testing.T) {
	cloud := &mockCloud{
		devices: []device.Device{testDevice("dev1")},
		state: device.State{
			Values:    map[string]any{device.CapPower: true},
			Timestamp: time.Now(),
			Channel:   device.ChannelCloud,
		},
	}
	e, _, _, _ := newTestEngine(t, cloud, nil)
	e.cfg.Poll.Interval = time.Hour

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := e.Start(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("second Start() error = %v, want ErrStopped", err)
	}

	e.Stop()
	e.Stop() // idempotent
}
