// Package transporttest provides a manual clock and a recording sound for
// tests that drive a transport.Scheduler.
package transporttest

import (
	"sync"
	"time"
)

type waiter struct {
	deadline time.Time
	ch       chan time.Time
}

// Clock is a manually advanced clock. After channels fire only when Advance
// moves the clock past their deadline.
type Clock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []waiter
}

// NewClock returns a clock stopped at start
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	deadline := c.now.Add(d)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.waiters = append(c.waiters, waiter{deadline: deadline, ch: ch})
	return ch
}

// Advance moves the clock forward and fires every waiter that is now due.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
	pending := c.waiters[:0]
	for _, w := range c.waiters {
		if !w.deadline.After(c.now) {
			w.ch <- c.now
			continue
		}
		pending = append(pending, w)
	}
	c.waiters = pending
}

// Waiters returns how many After calls are still pending.
func (c *Clock) Waiters() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// Trigger is one recorded call to Sound.Trigger.
type Trigger struct {
	Pitch    uint8
	Duration time.Duration
	At       time.Time
}

// Sound records every trigger it receives.
type Sound struct {
	mu       sync.Mutex
	triggers []Trigger
	silenced int
}

func (s *Sound) Trigger(pitch uint8, duration time.Duration, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.triggers = append(s.triggers, Trigger{Pitch: pitch, Duration: duration, At: at})
}

func (s *Sound) Silence() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.silenced++
}

// Triggers returns a copy of everything triggered so far.
func (s *Sound) Triggers() []Trigger {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Trigger, len(s.triggers))
	copy(out, s.triggers)
	return out
}

// Len returns the number of triggers so far
func (s *Sound) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.triggers)
}

// Silenced returns how many times Silence was called.
func (s *Sound) Silenced() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.silenced
}
