package schedule

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/warp/bank-interest/generic"
)

// =============================================================================
// CLOCK - Time source and repeating timers
// =============================================================================

// Clock schedules repeating callbacks anchored at a time of day.
type Clock interface {
	Now() time.Time

	// ScheduleRepeating calls fn at the next occurrence of anchor and then
	// every interval. Ticks are fixed-interval: a daylight-saving shift does
	// not re-anchor the timer to the wall clock.
	ScheduleRepeating(anchor generic.WakeTime, interval time.Duration, fn func()) (Timer, error)
}

// Timer is a handle to a repeating callback.
type Timer interface {
	// Cancel stops future fires. It is safe to call more than once.
	Cancel()
	// Next is the instant of the next fire.
	Next() time.Time
}

// =============================================================================
// REAL CLOCK
// =============================================================================

// RealClock runs timers on goroutines using the wall clock.
type RealClock struct {
	Location *time.Location
	stopped  atomic.Bool
}

func NewRealClock(loc *time.Location) *RealClock {
	if loc == nil {
		loc = time.Local
	}
	return &RealClock{Location: loc}
}

func (c *RealClock) Now() time.Time { return time.Now().In(c.Location) }

// Stop makes any further ScheduleRepeating call fail. Running timers are
// cancelled by their owners.
func (c *RealClock) Stop() { c.stopped.Store(true) }

func (c *RealClock) ScheduleRepeating(anchor generic.WakeTime, interval time.Duration, fn func()) (Timer, error) {
	if c.stopped.Load() {
		return nil, generic.ErrClockStopped
	}
	if !anchor.Valid() {
		return nil, errors.Newf("invalid anchor %s", anchor)
	}
	if interval <= 0 {
		return nil, errors.Newf("invalid interval %s", interval)
	}

	now := c.Now()
	t := &realTimer{stop: make(chan struct{}), next: anchor.Next(now)}
	go t.run(t.next.Sub(now), interval, fn)
	return t, nil
}

type realTimer struct {
	mu   sync.Mutex
	next time.Time
	stop chan struct{}
	once sync.Once
}

func (t *realTimer) run(delay, interval time.Duration, fn func()) {
	first := time.NewTimer(delay)
	select {
	case <-first.C:
	case <-t.stop:
		first.Stop()
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	t.fire(interval, fn)

	for {
		select {
		case <-ticker.C:
			t.fire(interval, fn)
		case <-t.stop:
			return
		}
	}
}

func (t *realTimer) fire(interval time.Duration, fn func()) {
	t.mu.Lock()
	t.next = t.next.Add(interval)
	t.mu.Unlock()
	fn()
}

func (t *realTimer) Cancel() { t.once.Do(func() { close(t.stop) }) }

func (t *realTimer) Next() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.next
}
