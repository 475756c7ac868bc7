// Package influxdb provides the optional telemetry sink for the bridge.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched writes, and health monitoring, plus a Forwarder
// that subscribes to the state notification bus and streams numeric
// device readings into the configured bucket.
//
// # Purpose
//
// Time-series storage for sensor readings reported by devices:
//   - Temperatures (outside, supply, target)
//   - Humidity and CO2 levels
//   - Filter life and fan speed
//
// The bridge itself keeps only the latest snapshot per device. History,
// retention, and downsampling are InfluxDB's problem.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	fwd := influxdb.NewForwarder(client, bus, logger)
//	fwd.Start(ctx)
//	defer fwd.Stop()
//
// When the sink is disabled in configuration, Connect returns
// ErrDisabled and the caller simply skips the forwarder.
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking; batch errors are surfaced via a
// callback set with SetOnError. Connection and health check errors are
// returned directly.
package influxdb
