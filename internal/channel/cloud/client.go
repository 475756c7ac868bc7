package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/airlogic/turkov-bridge/internal/channel"
	"github.com/airlogic/turkov-bridge/internal/device"
	"github.com/airlogic/turkov-bridge/internal/infrastructure/config"
)

const headerAccessToken = "x-access-token"

// Logger defines the logging interface used by the cloud client.
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

// Client talks to the vendor cloud API over authenticated HTTPS/JSON.
//
// Session tokens are obtained at sign-in and renewed transparently; an
// authentication error only surfaces when renewal itself fails. Device
// list and state responses are cached against their ETags so unchanged
// data is not re-parsed.
//
// Thread Safety: all methods are safe for concurrent use.
type Client struct {
	baseURL    string
	email      string
	password   string
	httpClient *http.Client
	tokenStore TokenStore
	logger     Logger

	// Session tokens, guarded by authMu for renewal and tokenMu for reads.
	tokens  TokenSet
	tokenMu sync.RWMutex
	authMu  sync.Mutex

	// ETag request history plus the payloads they validate, so 304
	// responses can be answered from memory.
	etags       map[string]string
	lastDevices []device.Device
	lastStates  map[string]map[string]any
	cacheMu     sync.Mutex
}

// Options configures a cloud Client.
type Options struct {
	// Config supplies the base URL, credentials and timeout.
	Config config.CloudConfig

	// TokenStore persists issued tokens between runs. Optional.
	TokenStore TokenStore

	// HTTPClient overrides the default client. Optional, used in tests.
	HTTPClient *http.Client

	// Logger is the structured logger. Optional.
	Logger Logger
}

// New creates a cloud client. Previously issued tokens are restored from
// the token store when one is supplied, avoiding a fresh sign-in on every
// start.
func New(ctx context.Context, opts Options) (*Client, error) {
	if opts.Config.BaseURL == "" {
		return nil, fmt.Errorf("cloud: base URL is required")
	}
	if opts.Config.Email == "" || opts.Config.Password == "" {
		return nil, fmt.Errorf("cloud: credentials are required")
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Config.Timeout}
	}

	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	c := &Client{
		baseURL:    opts.Config.BaseURL,
		email:      opts.Config.Email,
		password:   opts.Config.Password,
		httpClient: httpClient,
		tokenStore: opts.TokenStore,
		logger:     logger,
		etags:      make(map[string]string),
		lastStates: make(map[string]map[string]any),
	}

	if opts.TokenStore != nil {
		tokens, err := opts.TokenStore.LoadTokens(ctx)
		if err != nil {
			logger.Warn("loading persisted tokens failed", "error", err)
		} else if tokens.AccessToken != "" {
			c.setTokens(tokens)
			logger.Debug("restored persisted session tokens")
		}
	}

	return c, nil
}

// Name implements channel.Channel.
func (c *Client) Name() device.ChannelName {
	return device.ChannelCloud
}

func (c *Client) tokensLocked() TokenSet {
	c.tokenMu.RLock()
	defer c.tokenMu.RUnlock()
	return c.tokens
}

func (c *Client) setTokens(t TokenSet) {
	c.tokenMu.Lock()
	c.tokens = t
	c.tokenMu.Unlock()
}

// setTokensLocked is setTokens under a name that documents the authMu
// requirement for renewal paths.
func (c *Client) setTokensLocked(t TokenSet) {
	c.setTokens(t)
}

// doAuthenticated performs an authenticated request, renewing the session
// transparently. If the access token is already past its renewal point the
// session is refreshed up front; otherwise a 401/403 response triggers one
// renewal and a single retry. ErrAuth surfaces only when renewal fails.
func (c *Client) doAuthenticated(ctx context.Context, build func() (*http.Request, error)) (*http.Response, error) {
	attempted := false

	if c.tokensLocked().accessExpired(time.Now()) {
		if err := c.authenticate(ctx); err != nil {
			return nil, err
		}
		attempted = true
	}

	resp, err := c.doOnce(ctx, build)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		resp.Body.Close()
		if attempted {
			return nil, fmt.Errorf("%w: unauthorized request after renewal", channel.ErrAuth)
		}
		if err := c.authenticate(ctx); err != nil {
			return nil, err
		}
		return c.doOnce(ctx, build)
	}

	return resp, nil
}

// doOnce builds and executes a single request with the current token.
func (c *Client) doOnce(ctx context.Context, build func() (*http.Request, error)) (*http.Response, error) {
	req, err := build()
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %w", channel.ErrProtocol, err)
	}
	req = req.WithContext(ctx)
	req.Header.Set(headerAccessToken, c.tokensLocked().AccessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", channel.ErrConnectivity, err)
	}
	return resp, nil
}

// userResponse is the wire shape of GET /user.
type userResponse struct {
	Devices   []userDevice `json:"devices"`
	UserEmail string       `json:"userEmail"`
}

type userDevice struct {
	ID           string `json:"_id"`
	SerialNumber string `json:"serialNumber"`
	PIN          string `json:"pin"`
	DeviceType   string `json:"deviceType"`
	DeviceName   string `json:"deviceName"`
	FirmVer      string `json:"firmVer"`
	Image        string `json:"image"`
}

// ListDevices implements channel.Discoverer by fetching the account's
// device list. A 304 Not Modified response is answered from the cached
// copy of the previous list.
func (c *Client) ListDevices(ctx context.Context) ([]device.Device, error) {
	const tag = "user_data"

	resp, err := c.doAuthenticated(ctx, func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodGet, c.baseURL+"/user", nil)
		if err != nil {
			return nil, err
		}
		c.applyETag(req, tag)
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		c.cacheMu.Lock()
		cached := make([]device.Device, len(c.lastDevices))
		copy(cached, c.lastDevices)
		c.cacheMu.Unlock()
		c.logger.Debug("device list not modified")
		return cached, nil
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: device list returned status %d", channel.ErrProtocol, resp.StatusCode)
	}

	var data userResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("%w: decoding device list: %w", channel.ErrProtocol, err)
	}

	devices := make([]device.Device, 0, len(data.Devices))
	now := time.Now().UTC()
	for _, d := range data.Devices {
		if d.ID == "" {
			c.logger.Warn("device entry without id skipped", "name", d.DeviceName)
			continue
		}
		devices = append(devices, device.Device{
			ID:              d.ID,
			Name:            d.DeviceName,
			Type:            d.DeviceType,
			SerialNumber:    d.SerialNumber,
			PIN:             d.PIN,
			FirmwareVersion: d.FirmVer,
			ImageURL:        c.imageURL(d.ID, d.Image, d.DeviceType),
			Capabilities:    device.CapabilitiesForType(d.DeviceType),
			DiscoveredAt:    now,
		})
	}

	c.cacheMu.Lock()
	c.storeETag(tag, resp.Header.Get("ETag"))
	c.lastDevices = make([]device.Device, len(devices))
	copy(c.lastDevices, devices)
	c.cacheMu.Unlock()

	c.logger.Debug("device list fetched", "count", len(devices))
	return devices, nil
}

// stockImages maps device types to the vendor's stock product images.
var stockImages = map[string]string{
	"Zenit":   "/images/zenit.jpg",
	"Capsule": "/images/capsule.jpg",
	"i-Vent":  "/images/ivent.jpg",
}

// imageURL resolves a device's image: custom uploads win over the stock
// image for the device type.
func (c *Client) imageURL(id, image, deviceType string) string {
	if image != "" && id != "" {
		return fmt.Sprintf("%s/upload/%s_%s.jpg", c.baseURL, id, image)
	}
	if path, ok := stockImages[deviceType]; ok {
		return c.baseURL + path
	}
	return ""
}

// FetchState implements channel.Channel.
//
// The endpoint returns a JSON array whose last element is a JSON-encoded
// string holding the actual state object (a vendor quirk preserved from
// the shipping firmware). A 304 response is answered from the cached raw
// state with a fresh timestamp.
func (c *Client) FetchState(ctx context.Context, dev *device.Device) (device.State, error) {
	tag := "device_state__" + dev.ID

	resp, err := c.doAuthenticated(ctx, func() (*http.Request, error) {
		u := fmt.Sprintf("%s/user/devices?%s", c.baseURL,
			url.Values{"device": {dev.ID + "_state"}}.Encode())
		req, err := http.NewRequest(http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		c.applyETag(req, tag)
		return req, nil
	})
	if err != nil {
		return device.State{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		c.cacheMu.Lock()
		raw, ok := c.lastStates[dev.ID]
		c.cacheMu.Unlock()
		if ok {
			return c.buildState(dev, raw), nil
		}
		// No cached payload to answer from; treat as malformed exchange.
		return device.State{}, fmt.Errorf("%w: 304 without cached state", channel.ErrProtocol)
	}

	if resp.StatusCode != http.StatusOK {
		return device.State{}, fmt.Errorf("%w: state fetch returned status %d", channel.ErrProtocol, resp.StatusCode)
	}

	raw, err := decodeStatePayload(resp.Body)
	if err != nil {
		return device.State{}, err
	}

	c.cacheMu.Lock()
	c.storeETag(tag, resp.Header.Get("ETag"))
	c.lastStates[dev.ID] = raw
	c.cacheMu.Unlock()

	return c.buildState(dev, raw), nil
}

// decodeStatePayload unwraps the vendor's array-of-strings state encoding.
func decodeStatePayload(r io.Reader) (map[string]any, error) {
	var list []json.RawMessage
	if err := json.NewDecoder(r).Decode(&list); err != nil {
		return nil, fmt.Errorf("%w: improper device data format: %w", channel.ErrProtocol, err)
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("%w: missing device data", channel.ErrProtocol)
	}

	var encoded string
	if err := json.Unmarshal(list[len(list)-1], &encoded); err != nil {
		return nil, fmt.Errorf("%w: improper device data encoding: %w", channel.ErrProtocol, err)
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(encoded), &raw); err != nil {
		return nil, fmt.Errorf("%w: improper device data encoding: %w", channel.ErrProtocol, err)
	}
	return raw, nil
}

func (c *Client) buildState(dev *device.Device, raw map[string]any) device.State {
	return device.State{
		Values:    device.DecodeState(dev.Capabilities, raw),
		Timestamp: time.Now().UTC(),
		Channel:   device.ChannelCloud,
	}
}

// commandResponse is the wire shape of POST /user/device/<id>.
type commandResponse struct {
	Message string `json:"message"`
}

// SendCommand implements channel.Channel by posting a single key/value
// pair to the device's cloud endpoint. Any message other than "success"
// is a device-side rejection.
func (c *Client) SendCommand(ctx context.Context, dev *device.Device, key string, value any) error {
	body, err := json.Marshal(map[string]any{key: value})
	if err != nil {
		return fmt.Errorf("%w: encoding command: %w", channel.ErrProtocol, err)
	}

	resp, err := c.doAuthenticated(ctx, func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPost,
			c.baseURL+"/user/device/"+url.PathEscape(dev.ID), bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var data commandResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return fmt.Errorf("%w: decoding command response: %w", channel.ErrProtocol, err)
	}

	if data.Message != "success" {
		return fmt.Errorf("%w: %s", channel.ErrCommandRejected, data.Message)
	}

	c.logger.Debug("cloud command accepted", "device", dev.ID, "key", key)
	return nil
}

// applyETag attaches an If-None-Match header when a previous response tag
// is known. Callers must not hold cacheMu.
func (c *Client) applyETag(req *http.Request, tag string) {
	c.cacheMu.Lock()
	etag, ok := c.etags[tag]
	c.cacheMu.Unlock()
	if ok {
		req.Header.Set("If-None-Match", etag)
	}
}

// storeETag records a response tag. Called with cacheMu held.
func (c *Client) storeETag(tag, etag string) {
	if etag != "" {
		c.etags[tag] = etag
	}
}

// IsAuthError reports whether err is an authentication failure.
func IsAuthError(err error) bool {
	return errors.Is(err, channel.ErrAuth)
}
