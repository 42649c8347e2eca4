package schedule

import (
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/warp/bank-interest/generic"
)

// ManualClock is a deterministic Clock for tests and simulations. Time only
// moves when Advance is called; due timers fire synchronously, in order.
type ManualClock struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers map[int]*manualTimer
	fail   map[generic.WakeTime]error
}

func NewManualClock(now time.Time) *ManualClock {
	return &ManualClock{
		now:    now,
		timers: make(map[int]*manualTimer),
		fail:   make(map[generic.WakeTime]error),
	}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// FailNext makes the next ScheduleRepeating call for anchor return err.
func (c *ManualClock) FailNext(anchor generic.WakeTime, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail[anchor] = err
}

func (c *ManualClock) ScheduleRepeating(anchor generic.WakeTime, interval time.Duration, fn func()) (Timer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err, ok := c.fail[anchor]; ok {
		delete(c.fail, anchor)
		return nil, err
	}
	if interval <= 0 {
		return nil, errors.Newf("invalid interval %s", interval)
	}

	c.seq++
	t := &manualTimer{
		clock:    c,
		id:       c.seq,
		anchor:   anchor,
		interval: interval,
		next:     anchor.Next(c.now),
		fn:       fn,
	}
	c.timers[t.id] = t
	return t, nil
}

// Advance moves time forward by d, firing every timer that comes due.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	for {
		t := c.earliestLocked(target)
		if t == nil {
			break
		}
		c.now = t.next
		t.next = t.next.Add(t.interval)
		fn := t.fn
		c.mu.Unlock()
		fn()
		c.mu.Lock()
	}
	c.now = target
	c.mu.Unlock()
}

func (c *ManualClock) earliestLocked(until time.Time) *manualTimer {
	var best *manualTimer
	for _, t := range c.timers {
		if t.next.After(until) {
			continue
		}
		if best == nil || t.next.Before(best.next) || (t.next.Equal(best.next) && t.id < best.id) {
			best = t
		}
	}
	return best
}

// Active is the number of timers that have not been cancelled.
func (c *ManualClock) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// ActiveAnchors lists the anchor of every live timer, with repeats.
func (c *ManualClock) ActiveAnchors() []generic.WakeTime {
	c.mu.Lock()
	defer c.mu.Unlock()
	anchors := make([]generic.WakeTime, 0, len(c.timers))
	ids := make([]int, 0, len(c.timers))
	for id := range c.timers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		anchors = append(anchors, c.timers[id].anchor)
	}
	return anchors
}

type manualTimer struct {
	clock    *ManualClock
	id       int
	anchor   generic.WakeTime
	interval time.Duration
	next     time.Time
	fn       func()
}

func (t *manualTimer) Cancel() {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	delete(t.clock.timers, t.id)
}

func (t *manualTimer) Next() time.Time {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	return t.next
}
