// Turkov Bridge - ventilation device integration service
//
// This is the main entry point for the Turkov bridge. The bridge keeps a
// home-automation platform and Turkov ventilation units in sync:
//   - Discovers devices registered to a vendor cloud account
//   - Polls state over the cloud API or the local LAN protocol
//   - Dispatches validated commands with cross-channel fallback
//   - Publishes snapshots and events to MQTT, an HTTP API and InfluxDB
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/airlogic/turkov-bridge/internal/api"
	"github.com/airlogic/turkov-bridge/internal/channel/cloud"
	"github.com/airlogic/turkov-bridge/internal/channel/local"
	"github.com/airlogic/turkov-bridge/internal/device"
	"github.com/airlogic/turkov-bridge/internal/engine"
	"github.com/airlogic/turkov-bridge/internal/infrastructure/config"
	"github.com/airlogic/turkov-bridge/internal/infrastructure/database"
	"github.com/airlogic/turkov-bridge/internal/infrastructure/influxdb"
	"github.com/airlogic/turkov-bridge/internal/infrastructure/logging"
	"github.com/airlogic/turkov-bridge/internal/infrastructure/mqtt"
	"github.com/airlogic/turkov-bridge/internal/platform/mqttbridge"
	"github.com/airlogic/turkov-bridge/internal/session"
	"github.com/airlogic/turkov-bridge/internal/state"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Turkov bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open the session database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	store, err := session.NewStore(db)
	if err != nil {
		return fmt.Errorf("initialising session store: %w", err)
	}

	// Restore the device registry from the last run so polling can start
	// before the first discovery completes.
	registry := device.NewRegistry(store)
	registry.SetLogger(log)
	if restoreErr := registry.Restore(ctx); restoreErr != nil {
		return fmt.Errorf("restoring device registry: %w", restoreErr)
	}
	log.Info("device registry restored", "devices", registry.Count())

	// Cloud channel, with persisted tokens to avoid a sign-in per restart
	cloudClient, err := cloud.New(ctx, cloud.Options{
		Config:     cfg.Cloud,
		TokenStore: store,
		Logger:     log,
	})
	if err != nil {
		return fmt.Errorf("creating cloud client: %w", err)
	}

	// Local channel only when LAN endpoints are configured
	var localChannel engine.LocalChannel
	if len(cfg.Local.Hosts) > 0 {
		localChannel = local.New(local.Options{
			Config: cfg.Local,
			Logger: log,
		})
		log.Info("local channel enabled", "hosts", len(cfg.Local.Hosts))
	} else {
		log.Info("local channel disabled, no hosts configured")
	}

	// Reconciliation engine
	cache := state.NewCache(cfg.Poll.NoiseThreshold)
	bus := state.NewBus()

	eng, err := engine.New(engine.Options{
		Config:   *cfg,
		Registry: registry,
		Cache:    cache,
		Bus:      bus,
		Cloud:    cloudClient,
		Local:    localChannel,
		Logger:   log,
	})
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}
	if startErr := eng.Start(ctx); startErr != nil {
		return fmt.Errorf("starting engine: %w", startErr)
	}
	defer func() {
		log.Info("stopping engine")
		eng.Stop()
	}()
	log.Info("engine started", "poll_interval", cfg.Poll.Interval)

	// MQTT platform bridge (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		mqttClient.SetLogger(log)
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		bridge := mqttbridge.New(eng, mqttClient, log)
		if startErr := bridge.Start(ctx); startErr != nil {
			return fmt.Errorf("starting MQTT bridge: %w", startErr)
		}
		defer func() {
			log.Info("stopping MQTT bridge")
			bridge.Stop()
		}()
	} else {
		log.Info("MQTT bridge disabled")
	}

	// InfluxDB telemetry sink (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})

		forwarder := influxdb.NewForwarder(influxClient, bus, log)
		forwarder.Start(ctx)
		defer forwarder.Stop()
	} else {
		log.Info("InfluxDB disabled")
	}

	// HTTP API (optional)
	if cfg.API.Enabled {
		health := map[string]api.HealthChecker{
			"database": db,
		}
		if mqttClient != nil {
			health["mqtt"] = mqttClient
		}
		if influxClient != nil {
			health["influxdb"] = influxClient
		}

		apiServer, newErr := api.New(api.Deps{
			Config:  cfg.API,
			Logger:  log,
			Engine:  eng,
			Health:  health,
			Version: version,
		})
		if newErr != nil {
			return fmt.Errorf("creating API server: %w", newErr)
		}
		if startErr := apiServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("HTTP API disabled")
	}

	// Verify infrastructure connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server
	// 2. InfluxDB forwarder and client (if enabled)
	// 3. MQTT bridge and client (if enabled)
	// 4. Engine
	// 5. Database

	log.Info("Turkov bridge stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses TURKOV_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("TURKOV_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
// The MQTT and InfluxDB clients may be nil when disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
