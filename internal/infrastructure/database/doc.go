// Package database provides SQLite connectivity for the bridge's session
// storage.
//
// The database holds only what the bridge core needs across restarts:
// issued cloud session tokens and the last-discovered device list. State
// snapshots are never persisted; the cache is rebuilt from live polls.
//
// Security Considerations:
//   - All queries use parameterised statements (no SQL injection)
//   - Database file permissions are set to 0600 (owner read/write only)
//
// Performance Characteristics:
//   - WAL mode allows concurrent reads during writes
//   - Busy timeout prevents lock contention errors
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
package database
