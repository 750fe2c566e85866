// Package clocktest provides a manually advanced ports.Clock for tests.
package clocktest

import (
	"sort"
	"sync"
	"time"

	"github.com/bnema/agentforge-cli/internal/ports"
)

type Clock struct {
	mu      sync.Mutex
	now     time.Time
	nextID  uint64
	pending map[uint64]*timer
}

var _ ports.Clock = (*Clock)(nil)

func New(start time.Time) *Clock {
	return &Clock{now: start, pending: map[uint64]*timer{}}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) AfterFunc(d time.Duration, f func()) ports.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	t := &timer{clock: c, id: c.nextID, at: c.now.Add(d), fn: f}
	c.pending[t.id] = t
	return t
}

// Advance moves time forward by d and runs every timer that became due, in
// deadline order. Callbacks run on the caller's goroutine without the clock lock.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		next := c.nextDueLocked(target)
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		delete(c.pending, next.id)
		if next.at.After(c.now) {
			c.now = next.at
		}
		c.mu.Unlock()

		next.fn()
	}
}

// Pending returns the number of timers that have not fired or been stopped.
func (c *Clock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Clock) nextDueLocked(target time.Time) *timer {
	due := make([]*timer, 0, len(c.pending))
	for _, t := range c.pending {
		if !t.at.After(target) {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].at.Equal(due[j].at) {
			return due[i].id < due[j].id
		}
		return due[i].at.Before(due[j].at)
	})
	return due[0]
}

type timer struct {
	clock *Clock
	id    uint64
	at    time.Time
	fn    func()
}

func (t *timer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()

	if _, ok := t.clock.pending[t.id]; !ok {
		return false
	}
	delete(t.clock.pending, t.id)
	return true
}
