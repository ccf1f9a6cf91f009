// worker/clock.go
// Copyright(c) 2024-2025 multicopter contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package worker

import (
	"sync"
	"time"
)

// Clock supplies the timestamp, in seconds, passed to each task
// invocation. Implementations must be monotonic under normal operation.
type Clock interface {
	Now() float64
}

// MonotonicClock reports seconds elapsed since it was created, using the
// monotonic reading carried by time.Time.
type MonotonicClock struct {
	start time.Time
}

func NewMonotonicClock() *MonotonicClock {
	return &MonotonicClock{start: time.Now()}
}

func (c *MonotonicClock) Now() float64 {
	return time.Since(c.start).Seconds()
}

// ManualClock is a Clock that only changes when told to; it is safe to
// advance from one goroutine while the engine reads it from another.
type ManualClock struct {
	mu sync.Mutex
	t  float64
}

func (c *ManualClock) Now() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *ManualClock) Set(t float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func (c *ManualClock) Advance(dt float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t += dt
}

// SequenceClock returns the given timestamps in order, then keeps
// returning the last one. It is handy for replaying recorded or
// deliberately anomalous timing.
type SequenceClock struct {
	mu    sync.Mutex
	times []float64
	i     int
}

func NewSequenceClock(times ...float64) *SequenceClock {
	return &SequenceClock{times: times}
}

func (c *SequenceClock) Now() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.times) == 0 {
		return 0
	}
	t := c.times[min(c.i, len(c.times)-1)]
	c.i++
	return t
}
