// Package clock provides the shared reference clock that audio and video
// streams discipline during playback.
package clock

import (
	"math"
	"sync"
	"time"
)

// Clock is a reference presentation clock in seconds. Implementations must
// be safe for concurrent use by several streams.
type Clock interface {
	Read() float64
	Write(seconds float64)
}

// Manual is a clock that only moves when written or advanced.
type Manual struct {
	mu      sync.RWMutex
	seconds float64
	writes  int
}

// NewManual creates a manual clock at the given position.
func NewManual(seconds float64) *Manual {
	return &Manual{seconds: seconds}
}

// Read returns the current position.
func (c *Manual) Read() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.seconds
}

// Write sets the position.
func (c *Manual) Write(seconds float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seconds = seconds
	c.writes++
}

// Advance moves the clock forward by d seconds.
func (c *Manual) Advance(d float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seconds += d
}

// Writes returns how many times Write was called.
func (c *Manual) Writes() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.writes
}

// Wall is a clock that runs with real time from the last written position.
type Wall struct {
	mu     sync.RWMutex
	base   float64
	origin time.Time
	rate   float64
	now    func() time.Time
}

// NewWall creates a running clock starting at zero.
func NewWall() *Wall {
	return newWall(time.Now)
}

func newWall(now func() time.Time) *Wall {
	return &Wall{origin: now(), rate: 1, now: now}
}

// Read returns the current position.
func (c *Wall) Read() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.base + c.now().Sub(c.origin).Seconds()*c.rate
}

// Write rebases the clock at seconds.
func (c *Wall) Write(seconds float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.base = seconds
	c.origin = c.now()
}

// SetRate changes the playback speed. Non-positive or non-finite rates are
// ignored.
func (c *Wall) SetRate(rate float64) {
	if rate <= 0 || math.IsInf(rate, 0) || math.IsNaN(rate) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.base += now.Sub(c.origin).Seconds() * c.rate
	c.origin = now
	c.rate = rate
}
