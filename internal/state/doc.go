// Package state holds the per-device state cache and the notification
// bus that fans changes out to consumers.
//
// # Cache Semantics
//
// The cache is the single read surface: consumers always read a cached
// snapshot and never trigger a device exchange. Commits carry a channel
// timestamp, and an older report can never overwrite a newer one, so the
// cloud and local channels may race freely.
//
// Accepted commands are applied optimistically: the written value shadows
// the confirmed state and is flagged provisional until the next device
// report either confirms it (silently) or overrides it, which surfaces as
// a correction event carrying the device's actual value. Corrected
// capabilities stay marked on the snapshot until the following commit.
//
// Numeric deltas below a small noise threshold are absorbed: the stored
// value updates but no change event is produced, keeping sensor jitter
// out of the event stream.
//
// # Notification Bus
//
// The bus delivers change, correction, stale and reachability events to
// per-device or firehose subscribers. Delivery is best effort with a
// bounded buffer per subscriber; publishers run on the poll path and are
// never blocked by a slow consumer.
package state
