package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Turkov bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Cloud    CloudConfig    `yaml:"cloud"`
	Local    LocalConfig    `yaml:"local"`
	Poll     PollConfig     `yaml:"poll"`
	Registry RegistryConfig `yaml:"registry"`
	Limiter  LimiterConfig  `yaml:"limiter"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	API      APIConfig      `yaml:"api"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// CloudConfig contains vendor cloud API settings.
type CloudConfig struct {
	// BaseURL is the vendor cloud endpoint.
	BaseURL string `yaml:"base_url"`

	// Email and Password are the account credentials used for sign-in.
	Email    string `yaml:"email"`
	Password string `yaml:"password"`

	// Timeout is the per-request budget for cloud calls.
	Timeout time.Duration `yaml:"timeout"`
}

// LocalConfig contains direct LAN protocol settings.
type LocalConfig struct {
	// Port is the default HTTP port devices listen on.
	Port int `yaml:"port"`

	// Timeout is the per-request budget for local calls.
	Timeout time.Duration `yaml:"timeout"`

	// ProbeTimeout bounds the reachability probe (TCP dial).
	ProbeTimeout time.Duration `yaml:"probe_timeout"`

	// Hosts maps device serial numbers to LAN addresses. Devices without
	// an entry are cloud-only.
	Hosts map[string]string `yaml:"hosts"`
}

// PollConfig contains state polling settings.
type PollConfig struct {
	// Interval is the per-device refresh period.
	Interval time.Duration `yaml:"interval"`

	// BackoffInitial is the first retry delay after a failed poll.
	// Zero means "same as Interval".
	BackoffInitial time.Duration `yaml:"backoff_initial"`

	// BackoffMax caps the exponential backoff.
	BackoffMax time.Duration `yaml:"backoff_max"`

	// FreshnessThreshold is the snapshot age beyond which a cache entry
	// is flagged stale. Zero means 2x Interval.
	FreshnessThreshold time.Duration `yaml:"freshness_threshold"`

	// NoiseThreshold suppresses change notifications for numeric values
	// that moved by less than this amount.
	NoiseThreshold float64 `yaml:"noise_threshold"`
}

// RegistryConfig contains device discovery settings.
type RegistryConfig struct {
	// RefreshInterval is how often the device list is re-fetched from
	// the cloud. Lower frequency than state polling.
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// LimiterConfig bounds concurrent network calls.
type LimiterConfig struct {
	// MaxConcurrent caps simultaneous in-flight channel calls across all
	// devices (cloud rate-limit protection).
	MaxConcurrent int `yaml:"max_concurrent"`
}

// DatabaseConfig contains SQLite database settings for the session store.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings for the platform bridge.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// InfluxDBConfig contains optional telemetry sink settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: TURKOV_SECTION_KEY
// For example: TURKOV_CLOUD_EMAIL, TURKOV_DATABASE_PATH
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
//
// The poll defaults mirror the vendor app's behaviour: a 10 second refresh
// with backoff doubling up to five minutes, and a staleness threshold of
// two missed polls.
func defaultConfig() *Config {
	return &Config{
		Cloud: CloudConfig{
			BaseURL: "https://turkovwifi.ru",
			Timeout: 15 * time.Second,
		},
		Local: LocalConfig{
			Port:         80,
			Timeout:      5 * time.Second,
			ProbeTimeout: 2 * time.Second,
		},
		Poll: PollConfig{
			Interval:       10 * time.Second,
			BackoffMax:     5 * time.Minute,
			NoiseThreshold: 0.1,
		},
		Registry: RegistryConfig{
			RefreshInterval: 10 * time.Minute,
		},
		Limiter: LimiterConfig{
			MaxConcurrent: 4,
		},
		Database: DatabaseConfig{
			Path:        "./data/turkov.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "turkov-bridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: TURKOV_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Cloud credentials (the usual deployment path for secrets)
	if v := os.Getenv("TURKOV_CLOUD_BASE_URL"); v != "" {
		cfg.Cloud.BaseURL = v
	}
	if v := os.Getenv("TURKOV_CLOUD_EMAIL"); v != "" {
		cfg.Cloud.Email = v
	}
	if v := os.Getenv("TURKOV_CLOUD_PASSWORD"); v != "" {
		cfg.Cloud.Password = v
	}

	// Database
	if v := os.Getenv("TURKOV_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("TURKOV_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("TURKOV_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("TURKOV_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("TURKOV_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// API
	if v := os.Getenv("TURKOV_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	// Cloud validation
	if c.Cloud.BaseURL == "" {
		errs = append(errs, "cloud.base_url is required")
	} else if !strings.HasPrefix(c.Cloud.BaseURL, "http://") && !strings.HasPrefix(c.Cloud.BaseURL, "https://") {
		errs = append(errs, "cloud.base_url must be an http(s) URL")
	}
	if c.Cloud.Email == "" {
		errs = append(errs, "cloud.email is required")
	}
	if c.Cloud.Password == "" {
		errs = append(errs, "cloud.password is required")
	}
	if c.Cloud.Timeout <= 0 {
		errs = append(errs, "cloud.timeout must be positive")
	}

	// Local validation
	if c.Local.Port < 1 || c.Local.Port > 65535 {
		errs = append(errs, "local.port must be within [1:65535]")
	}
	if c.Local.Timeout <= 0 {
		errs = append(errs, "local.timeout must be positive")
	}
	if c.Local.ProbeTimeout <= 0 {
		errs = append(errs, "local.probe_timeout must be positive")
	}

	// Poll validation
	if c.Poll.Interval <= 0 {
		errs = append(errs, "poll.interval must be positive")
	}
	if c.Poll.BackoffMax > 0 && c.Poll.BackoffInitial > c.Poll.BackoffMax {
		errs = append(errs, "poll.backoff_initial must not exceed poll.backoff_max")
	}
	if c.Poll.NoiseThreshold < 0 {
		errs = append(errs, "poll.noise_threshold must not be negative")
	}

	// Registry validation
	if c.Registry.RefreshInterval <= 0 {
		errs = append(errs, "registry.refresh_interval must be positive")
	}

	// Limiter validation
	if c.Limiter.MaxConcurrent < 1 {
		errs = append(errs, "limiter.max_concurrent must be at least 1")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation (only when enabled)
	if c.MQTT.Enabled {
		if c.MQTT.Broker.Host == "" {
			errs = append(errs, "mqtt.broker.host is required when mqtt is enabled")
		}
		if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
			errs = append(errs, "mqtt.broker.port must be within [1:65535]")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1 or 2")
		}
	}

	// InfluxDB validation (only when enabled)
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Token == "" {
			errs = append(errs, "influxdb.token is required when influxdb is enabled")
		}
		if c.InfluxDB.Org == "" {
			errs = append(errs, "influxdb.org is required when influxdb is enabled")
		}
		if c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.bucket is required when influxdb is enabled")
		}
	}

	// API validation (only when enabled)
	if c.API.Enabled {
		if c.API.Port < 1 || c.API.Port > 65535 {
			errs = append(errs, "api.port must be within [1:65535]")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// EffectiveBackoffInitial resolves the zero-value default for the initial
// poll backoff delay.
func (c *PollConfig) EffectiveBackoffInitial() time.Duration {
	if c.BackoffInitial > 0 {
		return c.BackoffInitial
	}
	return c.Interval
}

// EffectiveFreshnessThreshold resolves the zero-value default for the
// staleness threshold: two missed polls.
func (c *PollConfig) EffectiveFreshnessThreshold() time.Duration {
	if c.FreshnessThreshold > 0 {
		return c.FreshnessThreshold
	}
	return 2 * c.Interval
}
