package local

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/airlogic/turkov-bridge/internal/channel"
	"github.com/airlogic/turkov-bridge/internal/device"
	"github.com/airlogic/turkov-bridge/internal/infrastructure/config"
)

// Logger defines the logging interface used by the local client.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Client talks to devices directly over their LAN HTTP endpoint. No
// authentication is involved; reachability is a property of the network,
// checked with Probe before each exchange cycle.
//
// Thread Safety: all methods are safe for concurrent use.
type Client struct {
	httpClient   *http.Client
	dialer       *net.Dialer
	probeTimeout time.Duration
	logger       Logger
}

// Options configures a local Client.
type Options struct {
	// Config supplies timeouts and the default device port.
	Config config.LocalConfig

	// HTTPClient overrides the default client. Optional, used in tests.
	HTTPClient *http.Client

	// Logger is the structured logger. Optional.
	Logger Logger
}

// New creates a local LAN client.
func New(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Config.Timeout}
	}

	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	probeTimeout := opts.Config.ProbeTimeout
	if probeTimeout <= 0 {
		probeTimeout = 2 * time.Second
	}

	return &Client{
		httpClient:   httpClient,
		dialer:       &net.Dialer{Timeout: probeTimeout},
		probeTimeout: probeTimeout,
		logger:       logger,
	}
}

// Name implements channel.Channel.
func (c *Client) Name() device.ChannelName {
	return device.ChannelLocal
}

func baseURL(dev *device.Device) (string, error) {
	if !dev.HasLocal() {
		return "", fmt.Errorf("%w: device %s has no local endpoint", channel.ErrConnectivity, dev.ID)
	}
	return fmt.Sprintf("http://%s", net.JoinHostPort(dev.LocalHost, strconv.Itoa(dev.LocalPort))), nil
}

// FetchState implements channel.Channel. The local endpoint returns the
// state object directly, without the cloud's array envelope.
func (c *Client) FetchState(ctx context.Context, dev *device.Device) (device.State, error) {
	base, err := baseURL(dev)
	if err != nil {
		return device.State{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/state", nil)
	if err != nil {
		return device.State{}, fmt.Errorf("%w: building state request: %w", channel.ErrProtocol, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return device.State{}, fmt.Errorf("%w: %w", channel.ErrConnectivity, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return device.State{}, fmt.Errorf("%w: local state returned status %d", channel.ErrProtocol, resp.StatusCode)
	}

	var raw map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return device.State{}, fmt.Errorf("%w: decoding local state: %w", channel.ErrProtocol, err)
	}

	return device.State{
		Values:    device.DecodeState(dev.Capabilities, raw),
		Timestamp: time.Now().UTC(),
		Channel:   device.ChannelLocal,
	}, nil
}

// SendCommand implements channel.Channel.
//
// The firmware's command parser expects the literal body {key: "value"}
// with an unquoted key and the value stringified, which is not valid JSON.
// This is a firmware quirk that must be reproduced byte for byte.
func (c *Client) SendCommand(ctx context.Context, dev *device.Device, key string, value any) error {
	base, err := baseURL(dev)
	if err != nil {
		return err
	}

	body := "{" + key + ": \"" + formatValue(value) + "\"}"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/command", strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: building command request: %w", channel.ErrProtocol, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", channel.ErrConnectivity, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: local command returned status %d", channel.ErrCommandRejected, resp.StatusCode)
	}

	c.logger.Debug("local command accepted", "device", dev.ID, "key", key)
	return nil
}

// formatValue renders a canonical value the way the firmware expects it
// inside the quoted command body.
func formatValue(value any) string {
	switch v := value.(type) {
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// Probe implements channel.Prober with a plain TCP dial against the
// device's LAN endpoint. A device that does not accept the connection
// within the probe timeout is treated as locally unreachable.
func (c *Client) Probe(ctx context.Context, dev *device.Device) bool {
	if !dev.HasLocal() {
		return false
	}

	addr := net.JoinHostPort(dev.LocalHost, strconv.Itoa(dev.LocalPort))

	dialCtx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	conn, err := c.dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		c.logger.Debug("local probe failed", "device", dev.ID, "addr", addr, "error", err)
		return false
	}
	conn.Close()
	return true
}
