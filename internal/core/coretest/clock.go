// Package coretest provides test doubles for the core interfaces.
package coretest

import (
	"context"
	"sync"
	"time"
)

// VirtualClock is a core.Clock whose Sleep advances time instantly.
type VirtualClock struct {
	mutex  sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

// NewVirtualClock starts a virtual clock at now.
func NewVirtualClock(now time.Time) *VirtualClock {
	return &VirtualClock{
		mutex:  sync.Mutex{},
		now:    now,
		sleeps: nil,
	}
}

// Now returns the virtual time.
func (c *VirtualClock) Now() time.Time {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.now
}

// Sleep records d and advances the virtual time by it.
func (c *VirtualClock) Sleep(ctx context.Context, d time.Duration) error {
	err := ctx.Err()
	if err != nil {
		return err
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.now = c.now.Add(d)
	c.sleeps = append(c.sleeps, d)

	return nil
}

// Advance moves the virtual time forward without recording a sleep.
func (c *VirtualClock) Advance(d time.Duration) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.now = c.now.Add(d)
}

// Sleeps returns every duration passed to Sleep.
func (c *VirtualClock) Sleeps() []time.Duration {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return append([]time.Duration(nil), c.sleeps...)
}
