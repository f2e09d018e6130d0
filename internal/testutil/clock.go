package testutil

import (
	"fmt"
	"sync"
	"time"
)

// DeterministicClock is a thread-safe fake clock for tests.
//
// Each call to Now returns the previous time advanced by Step, so
// timestamps are strictly increasing and identical across runs.
type DeterministicClock struct {
	mu   sync.Mutex
	base time.Time
	now  time.Time
	step time.Duration
}

// Epoch is the first time returned by a new DeterministicClock.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// NewDeterministicClock creates a clock starting at Epoch that advances one
// second per call.
func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{base: Epoch, now: Epoch, step: time.Second}
}

// Now returns the current time and advances the clock.
func (c *DeterministicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

// Peek returns the time the next Now call will return.
func (c *DeterministicClock) Peek() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Reset rewinds the clock to its starting time.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.base
}

// SequenceIDGenerator returns "<prefix>-0001", "<prefix>-0002", ...
//
// Thread-safety: safe for concurrent use.
type SequenceIDGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequenceIDGenerator creates a generator. An empty prefix means "build".
func NewSequenceIDGenerator(prefix string) *SequenceIDGenerator {
	if prefix == "" {
		prefix = "build"
	}
	return &SequenceIDGenerator{prefix: prefix}
}

// Generate returns the next ID.
func (g *SequenceIDGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%04d", g.prefix, g.n)
}
