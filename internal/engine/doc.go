// Package engine coordinates polling, command dispatch and device
// lifecycle. It is the consumer surface: everything above it reads
// cached snapshots, dispatches validated commands and subscribes to the
// event stream, and nothing above it touches a transport channel.
//
// # Concurrency Model
//
// Each device gets one poll worker goroutine and, transiently, command
// executions. The two are mutually exclusive per device: a command waits
// for an in-flight poll to finish, and a poll that becomes due while a
// command holds the lock is deferred, never dropped or run concurrently.
// This ordering keeps a poll from overwriting an in-flight command's
// optimistic update with pre-command data. Devices never contend with
// each other; the only global coordination is a bounded semaphore capping
// concurrent cloud calls, since the vendor cloud rate-limits.
//
// # Channel Policy
//
// Local wins when its reachability probe succeeds for this cycle; cloud
// otherwise, with no LAN fallback once the probe has failed. A dispatch
// that hits a connectivity failure retries exactly once on the alternate
// channel; device-side rejections are final. Poll
// failures back off exponentially per device, doubling up to a cap and
// resetting on success. Authentication failures pin the retry at the cap,
// since retrying bad credentials faster fixes nothing.
//
// # Device Lifecycle
//
// A periodic discovery loop reconciles the registry against the cloud
// device list. New devices get a worker; removed devices have their
// worker cancelled, cache entry dropped and lock released, so no writes
// or notifications for a removed id occur afterwards.
package engine
