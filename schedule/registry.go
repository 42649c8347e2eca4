/*
Package schedule owns the payout timers.

PURPOSE:
  Banks declare the times of day at which their accounts earn interest.
  Many banks typically share the same times, so the Registry keeps exactly
  one repeating timer per distinct WakeTime and remembers which banks are
  due when it fires.

DESIGN:
  - timeToBanks: WakeTime -> bucket{banks, timer}
  - bankToTimes: BankID   -> set of WakeTime
  The two indexes are kept mutually consistent under one mutex. A bucket
  exists if and only if its timer is live; the moment its last bank leaves
  the timer is cancelled and the bucket deleted.

  When a timer fires, the bank set is snapshotted at that instant (banks
  removed earlier are not included), sorted by ID, and handed to the
  FireFunc. Fires are serialized: only one payout batch runs at a time.

LOCKING:
  runMu is held for a whole payout batch. Reconcile, Rebuild and Exclusive
  take it too, so the indexes never change under a running batch. Close
  waits on it after cancelling the fire context.

  Lock order: runMu -> mu.

FAILURES:
  A timer that cannot be scheduled fails only its own WakeTime. The bank
  is left unregistered for that time, so the next Reconcile retries it.
  An index mismatch is a ConsistencyViolation: every timer is cancelled and
  the registry is rebuilt from its Source.

USAGE:
  reg := schedule.NewRegistry(ctx, clock, engineFire, schedule.WithSource(svc))
  err := reg.Reconcile("bank-1", cfg.PayoutTimes())
  ...
  reg.Close()

SEE ALSO:
  - clock.go: Clock/Timer abstraction
  - payout/engine.go: The FireFunc target
*/
package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
	"github.com/warp/bank-interest/generic"
	"github.com/warp/bank-interest/pkg/logger"
	"github.com/warp/bank-interest/pkg/logger/slogx"
)

// FireFunc runs the payout for the banks due at a WakeTime.
type FireFunc func(ctx context.Context, wake generic.WakeTime, banks []generic.BankID)

// Source is the source of truth for bank payout times, used to rebuild.
type Source interface {
	AllPayoutTimes() map[generic.BankID][]generic.WakeTime
}

type bucket struct {
	banks map[generic.BankID]struct{}
	timer Timer
}

type Registry struct {
	clock  Clock
	fire   FireFunc
	source Source

	ctx    context.Context
	cancel context.CancelFunc

	// serializes payout batches with index changes
	runMu sync.Mutex

	mu          sync.Mutex
	closed      bool
	timeToBanks map[generic.WakeTime]*bucket
	bankToTimes map[generic.BankID]map[generic.WakeTime]struct{}
}

type Option func(*Registry)

// WithSource enables automatic rebuilds after a consistency violation.
func WithSource(s Source) Option { return func(r *Registry) { r.source = s } }

// NewRegistry creates an empty registry. Fires receive a context derived
// from ctx that is cancelled by Close.
func NewRegistry(ctx context.Context, clock Clock, fire FireFunc, opts ...Option) *Registry {
	ctx, cancel := context.WithCancel(ctx)
	r := &Registry{
		clock:       clock,
		fire:        fire,
		ctx:         ctx,
		cancel:      cancel,
		timeToBanks: make(map[generic.WakeTime]*bucket),
		bankToTimes: make(map[generic.BankID]map[generic.WakeTime]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// =============================================================================
// RECONCILE
// =============================================================================

// Reconcile synchronizes the registry with a bank's desired payout times.
// An empty set removes the bank entirely. Calling it again with the same
// set is a no-op. Errors are SchedulingErrors for the times that could not
// be scheduled; every other time is still applied. It blocks while a
// payout batch is running.
func (r *Registry) Reconcile(bankID generic.BankID, desired []generic.WakeTime) error {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return errors.Wrap(generic.ErrClockStopped, "registry closed")
	}

	err := r.reconcileLocked(bankID, desired)
	if verr := r.verifyLocked(); verr != nil {
		logger.ErrorContext(r.ctx, "Payout registry inconsistent, rebuilding", verr)
		if rerr := r.rebuildLocked(); rerr != nil {
			err = errors.CombineErrors(err, rerr)
		}
	}
	return err
}

// Remove drops a bank from every WakeTime. Used when a bank is deleted.
func (r *Registry) Remove(bankID generic.BankID) error {
	return r.Reconcile(bankID, nil)
}

func (r *Registry) reconcileLocked(bankID generic.BankID, desired []generic.WakeTime) error {
	want := make(map[generic.WakeTime]struct{}, len(desired))
	for _, t := range desired {
		want[t] = struct{}{}
	}
	have := r.bankToTimes[bankID]

	added := generic.SortWakeTimes(lo.Filter(lo.Keys(want), func(t generic.WakeTime, _ int) bool {
		_, ok := have[t]
		return !ok
	}))
	removed := generic.SortWakeTimes(lo.Filter(lo.Keys(have), func(t generic.WakeTime, _ int) bool {
		_, ok := want[t]
		return !ok
	}))

	var errs error
	registered := make(map[generic.WakeTime]struct{}, len(want))
	for t := range have {
		if _, ok := want[t]; ok {
			registered[t] = struct{}{}
		}
	}

	for _, t := range added {
		b, ok := r.timeToBanks[t]
		if !ok {
			var err error
			b, err = r.startLocked(t)
			if err != nil {
				serr := &generic.SchedulingError{WakeTime: t, Err: err}
				logger.ErrorContext(r.ctx, "Failed to schedule payout timer", serr,
					slogx.Stringer("wake_time", t), slogx.String("bank", string(bankID)))
				errs = errors.CombineErrors(errs, serr)
				continue
			}
		}
		b.banks[bankID] = struct{}{}
		registered[t] = struct{}{}
	}

	for _, t := range removed {
		b, ok := r.timeToBanks[t]
		if !ok {
			continue
		}
		delete(b.banks, bankID)
		if len(b.banks) == 0 {
			r.stopLocked(t, b)
		}
	}

	if len(registered) == 0 {
		delete(r.bankToTimes, bankID)
	} else {
		r.bankToTimes[bankID] = registered
	}
	return errs
}

func (r *Registry) startLocked(t generic.WakeTime) (*bucket, error) {
	b := &bucket{banks: make(map[generic.BankID]struct{})}
	timer, err := r.clock.ScheduleRepeating(t, generic.Day, func() { r.onFire(t, b) })
	if err != nil {
		return nil, err
	}
	b.timer = timer
	r.timeToBanks[t] = b
	logger.InfoContext(r.ctx, "Payout timer started",
		slogx.Stringer("wake_time", t), slogx.Time("next", timer.Next()))
	return b, nil
}

func (r *Registry) stopLocked(t generic.WakeTime, b *bucket) {
	b.timer.Cancel()
	delete(r.timeToBanks, t)
	logger.InfoContext(r.ctx, "Payout timer cancelled", slogx.Stringer("wake_time", t))
}

// =============================================================================
// FIRING
// =============================================================================

func (r *Registry) onFire(t generic.WakeTime, b *bucket) {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	// the snapshot is taken under runMu so a bank removed while this tick
	// waited for the previous batch is not paid
	r.mu.Lock()
	if r.closed || r.timeToBanks[t] != b {
		// cancelled while this tick was in flight
		r.mu.Unlock()
		return
	}
	banks := generic.SortBankIDs(lo.Keys(b.banks))
	r.mu.Unlock()

	if len(banks) == 0 || r.ctx.Err() != nil {
		return
	}
	r.fire(r.ctx, t, banks)
}

// Exclusive runs fn serialized with timer fires. Used for manual payouts
// and bank deletion. fn must not call back into the registry.
func (r *Registry) Exclusive(fn func()) {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	fn()
}

// =============================================================================
// CONSISTENCY
// =============================================================================

// Verify checks the bidirectional-index invariant.
func (r *Registry) Verify() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.verifyLocked()
}

func (r *Registry) verifyLocked() error {
	for bankID, times := range r.bankToTimes {
		if len(times) == 0 {
			return &generic.ConsistencyViolation{BankID: bankID, Detail: "empty time set kept"}
		}
		for t := range times {
			b, ok := r.timeToBanks[t]
			if !ok {
				return &generic.ConsistencyViolation{BankID: bankID, WakeTime: t, Detail: "no bucket for registered time"}
			}
			if _, ok := b.banks[bankID]; !ok {
				return &generic.ConsistencyViolation{BankID: bankID, WakeTime: t, Detail: "bank missing from bucket"}
			}
		}
	}
	for t, b := range r.timeToBanks {
		if len(b.banks) == 0 {
			return &generic.ConsistencyViolation{WakeTime: t, Detail: "empty bucket with live timer"}
		}
		for bankID := range b.banks {
			if _, ok := r.bankToTimes[bankID][t]; !ok {
				return &generic.ConsistencyViolation{BankID: bankID, WakeTime: t, Detail: "time missing from bank index"}
			}
		}
	}
	return nil
}

// Rebuild cancels every timer and re-registers all banks from the Source.
func (r *Registry) Rebuild() error {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rebuildLocked()
}

func (r *Registry) rebuildLocked() error {
	if r.source == nil {
		return errors.Wrap(generic.ErrConsistency, "no source to rebuild from")
	}
	for t, b := range r.timeToBanks {
		r.stopLocked(t, b)
	}
	r.bankToTimes = make(map[generic.BankID]map[generic.WakeTime]struct{})

	var errs error
	all := r.source.AllPayoutTimes()
	for _, bankID := range generic.SortBankIDs(lo.Keys(all)) {
		errs = errors.CombineErrors(errs, r.reconcileLocked(bankID, all[bankID]))
	}
	logger.InfoContext(r.ctx, "Payout registry rebuilt", slogx.Int("banks", len(all)), slogx.Int("timers", len(r.timeToBanks)))
	return errs
}

// =============================================================================
// LIFECYCLE & INTROSPECTION
// =============================================================================

// Close cancels every timer and the fire context, then waits for an
// in-flight payout batch, which stops at the next account boundary.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	for t, b := range r.timeToBanks {
		r.stopLocked(t, b)
	}
	r.bankToTimes = make(map[generic.BankID]map[generic.WakeTime]struct{})
	r.closed = true
	r.cancel()
	r.mu.Unlock()

	// wait for the running batch
	r.runMu.Lock()
	defer r.runMu.Unlock()
}

// Banks returns the banks due at t, sorted.
func (r *Registry) Banks(t generic.WakeTime) []generic.BankID {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.timeToBanks[t]
	if !ok {
		return nil
	}
	return generic.SortBankIDs(lo.Keys(b.banks))
}

// Times returns the times a bank is registered at, sorted.
func (r *Registry) Times(bankID generic.BankID) []generic.WakeTime {
	r.mu.Lock()
	defer r.mu.Unlock()
	return generic.SortWakeTimes(lo.Keys(r.bankToTimes[bankID]))
}

// TimerCount is the number of live timers.
func (r *Registry) TimerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timeToBanks)
}

// Entry describes one live timer.
type Entry struct {
	WakeTime generic.WakeTime
	Banks    []generic.BankID
	Next     time.Time
}

// Snapshot lists every live timer, ordered by time of day.
func (r *Registry) Snapshot() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := make([]Entry, 0, len(r.timeToBanks))
	for _, t := range generic.SortWakeTimes(lo.Keys(r.timeToBanks)) {
		b := r.timeToBanks[t]
		entries = append(entries, Entry{
			WakeTime: t,
			Banks:    generic.SortBankIDs(lo.Keys(b.banks)),
			Next:     b.timer.Next(),
		})
	}
	return entries
}
