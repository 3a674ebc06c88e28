package testutil

import (
	"fmt"
	"sync"
	"time"

	"podlog/internal/podlog"
)

// StubClock is a podlog.Clock that only moves when told to.
type StubClock struct {
	mu  sync.Mutex
	now time.Time
}

var _ podlog.Clock = (*StubClock)(nil)

func NewStubClock(t time.Time) *StubClock {
	return &StubClock{now: t}
}

// FixedClock starts at 2024-01-15 10:30:00 UTC, inside a window for every
// rate limit the tests configure.
func FixedClock() *StubClock {
	return NewStubClock(time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC))
}

func (c *StubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance adds d and returns the new time.
func (c *StubClock) Advance(d time.Duration) time.Time {
	return c.update(func(now time.Time) time.Time { return now.Add(d) })
}

func (c *StubClock) Set(t time.Time) {
	c.update(func(time.Time) time.Time { return t })
}

func (c *StubClock) update(f func(time.Time) time.Time) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = f(c.now)
	return c.now
}

// StubIDGenerator is a podlog.IDGenerator yielding "id-000001",
// "id-000002", ... so IDs sort in issue order.
type StubIDGenerator struct {
	mu   sync.Mutex
	next int
}

var _ podlog.IDGenerator = (*StubIDGenerator)(nil)

func NewStubIDGenerator() *StubIDGenerator {
	return &StubIDGenerator{}
}

func (g *StubIDGenerator) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return fmt.Sprintf("id-%06d", g.next)
}
