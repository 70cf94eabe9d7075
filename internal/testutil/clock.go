package testutil

import (
	"fmt"
	"sync"
	"time"

	"tgfs-go/internal/tgfs"
)

// StubClock returns a fixed time until advanced. Safe for concurrent use.
type StubClock struct {
	mu  sync.Mutex
	now time.Time
}

var _ tgfs.Clock = (*StubClock)(nil)

// NewStubClock creates a StubClock set to the given time.
func NewStubClock(t time.Time) *StubClock {
	return &StubClock{now: t}
}

// FixedClock returns a StubClock set to 2024-01-15 10:30:00 UTC.
func FixedClock() *StubClock {
	return NewStubClock(time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC))
}

func (c *StubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *StubClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// StubIDGenerator returns sequential IDs: "<prefix>-1", "<prefix>-2", etc.
type StubIDGenerator struct {
	mu      sync.Mutex
	prefix  string
	counter int
}

var _ tgfs.IDGenerator = (*StubIDGenerator)(nil)

// NewStubIDGenerator returns a generator producing "id-1", "id-2", ...
func NewStubIDGenerator() *StubIDGenerator {
	return &StubIDGenerator{prefix: "id"}
}

// NewPrefixedIDGenerator returns a generator producing "<prefix>-1", ...
// Use distinct prefixes when two services in one test must not collide.
func NewPrefixedIDGenerator(prefix string) *StubIDGenerator {
	return &StubIDGenerator{prefix: prefix}
}

func (g *StubIDGenerator) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counter++
	return fmt.Sprintf("%s-%d", g.prefix, g.counter)
}
