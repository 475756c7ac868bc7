package engine

import (
	"context"
	"sync"
)

// deviceLocks hands out one mutex per device id. Poll and command
// execution for the same device take the same lock; different devices
// never contend.
type deviceLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newDeviceLocks() *deviceLocks {
	return &deviceLocks{locks: make(map[string]*sync.Mutex)}
}

func (d *deviceLocks) get(deviceID string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()

	l, ok := d.locks[deviceID]
	if !ok {
		l = &sync.Mutex{}
		d.locks[deviceID] = l
	}
	return l
}

func (d *deviceLocks) drop(deviceID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.locks, deviceID)
}

// limiter bounds concurrent cloud calls across all devices. The vendor
// cloud rate-limits aggressively; local LAN calls are not limited.
type limiter chan struct{}

func newLimiter(max int) limiter {
	if max <= 0 {
		max = 4
	}
	return make(limiter, max)
}

// acquire blocks until a slot is free or the context is cancelled.
func (l limiter) acquire(ctx context.Context) error {
	select {
	case l <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l limiter) release() {
	<-l
}
