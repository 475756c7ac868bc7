package local

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/airlogic/turkov-bridge/internal/channel"
	"github.com/airlogic/turkov-bridge/internal/device"
	"github.com/airlogic/turkov-bridge/internal/infrastructure/config"
)

func newTestClient(server *httptest.Server) *Client {
	return New(Options{
		Config: config.LocalConfig{
			Timeout:      2 * time.Second,
			ProbeTimeout: time.Second,
		},
		HTTPClient: server.Client(),
	})
}

// localDevice builds a device pointed at the test server's address.
func localDevice(t *testing.T, server *httptest.Server) *device.Device {
	t.Helper()
	host, portStr, err := net.SplitHostPort(server.Listener.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatal(err)
	}
	return &device.Device{
		ID:           "abc123",
		Type:         "Zenit",
		LocalHost:    host,
		LocalPort:    port,
		Capabilities: device.CapabilitiesForType("Zenit"),
	}
}

func TestClient_FetchState(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/state" || r.Method != http.MethodGet {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.Write([]byte(`{"on": true, "in_temp": "224", "fan_speed": "auto"}`))
	}))
	defer server.Close()

	c := newTestClient(server)

	state, err := c.FetchState(context.Background(), localDevice(t, server))
	if err != nil {
		t.Fatalf("FetchState() error = %v", err)
	}
	if state.Channel != device.ChannelLocal {
		t.Errorf("channel = %q, want local", state.Channel)
	}
	if got, _ := state.Value(device.CapPower); got != true {
		t.Errorf("power = %v, want true", got)
	}
	if got, _ := state.Value(device.CapIndoorTemp); got != 22.4 {
		t.Errorf("indoor temp = %v, want 22.4 (scaled)", got)
	}
	if got, _ := state.Value(device.CapFanSpeed); got != "auto" {
		t.Errorf("fan speed = %v, want auto", got)
	}
}

func TestClient_FetchStateNoLocalEndpoint(t *testing.T) {
	c := New(Options{Config: config.LocalConfig{}})

	_, err := c.FetchState(context.Background(), &device.Device{ID: "abc123"})
	if !errors.Is(err, channel.ErrConnectivity) {
		t.Fatalf("FetchState() error = %v, want ErrConnectivity", err)
	}
}

func TestClient_FetchStateMalformed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer server.Close()

	c := newTestClient(server)

	_, err := c.FetchState(context.Background(), localDevice(t, server))
	if !errors.Is(err, channel.ErrProtocol) {
		t.Fatalf("FetchState() error = %v, want ErrProtocol", err)
	}
}

func TestClient_FetchStateConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	c := newTestClient(server)
	dev := localDevice(t, server)
	server.Close()

	_, err := c.FetchState(context.Background(), dev)
	if !errors.Is(err, channel.ErrConnectivity) {
		t.Fatalf("FetchState() error = %v, want ErrConnectivity", err)
	}
}

func TestClient_SendCommandQuirkBody(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		value    any
		wantBody string
	}{
		{"bool", "on", true, `{on: "true"}`},
		{"number", "temp_sp", 22.0, `{temp_sp: "22"}`},
		{"fractional", "temp_sp", 22.5, `{temp_sp: "22.5"}`},
		{"enum", "fan_speed", "auto", `{fan_speed: "auto"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotBody string
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/command" || r.Method != http.MethodPost {
					t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
				}
				b, _ := io.ReadAll(r.Body)
				gotBody = string(b)
				w.Write([]byte(`{"message": "ok"}`))
			}))
			defer server.Close()

			c := newTestClient(server)

			if err := c.SendCommand(context.Background(), localDevice(t, server), tt.key, tt.value); err != nil {
				t.Fatalf("SendCommand() error = %v", err)
			}
			if gotBody != tt.wantBody {
				t.Errorf("command body = %q, want %q", gotBody, tt.wantBody)
			}
		})
	}
}

func TestClient_SendCommandRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	c := newTestClient(server)

	err := c.SendCommand(context.Background(), localDevice(t, server), "on", true)
	if !errors.Is(err, channel.ErrCommandRejected) {
		t.Fatalf("SendCommand() error = %v, want ErrCommandRejected", err)
	}
}

func TestClient_Probe(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	c := newTestClient(server)
	dev := localDevice(t, server)

	if !c.Probe(context.Background(), dev) {
		t.Error("Probe() = false for listening endpoint")
	}

	server.Close()
	if c.Probe(context.Background(), dev) {
		t.Error("Probe() = true for closed endpoint")
	}

	if c.Probe(context.Background(), &device.Device{ID: "no-local"}) {
		t.Error("Probe() = true for device without local endpoint")
	}
}
