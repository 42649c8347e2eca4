package schedule_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/bank-interest/generic"
	"github.com/warp/bank-interest/schedule"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type fireRecord struct {
	At    time.Time
	Wake  generic.WakeTime
	Banks []generic.BankID
}

type recorder struct {
	mu    sync.Mutex
	clock *schedule.ManualClock
	fires []fireRecord
}

func (r *recorder) fire(_ context.Context, wake generic.WakeTime, banks []generic.BankID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fires = append(r.fires, fireRecord{At: r.clock.Now(), Wake: wake, Banks: banks})
}

func (r *recorder) records() []fireRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]fireRecord(nil), r.fires...)
}

// start is 2025-03-10 08:00:00 UTC.
func newTestRegistry(t *testing.T, opts ...schedule.Option) (*schedule.Registry, *schedule.ManualClock, *recorder) {
	t.Helper()
	clock := schedule.NewManualClock(time.Date(2025, time.March, 10, 8, 0, 0, 0, time.UTC))
	rec := &recorder{clock: clock}
	reg := schedule.NewRegistry(context.Background(), clock, rec.fire, opts...)
	t.Cleanup(reg.Close)
	return reg, clock, rec
}

func wt(h, m int) generic.WakeTime { return generic.MustWakeTime(h, m, 0) }

func assertBidirectional(t *testing.T, reg *schedule.Registry) {
	t.Helper()
	require.NoError(t, reg.Verify())
}

// =============================================================================
// DEDUP AND INDEXES
// =============================================================================

func TestReconcile_SharedWakeTimeHasOneTimer(t *testing.T) {
	reg, clock, _ := newTestRegistry(t)

	for _, id := range []generic.BankID{"a", "b", "c", "d"} {
		require.NoError(t, reg.Reconcile(id, []generic.WakeTime{wt(9, 0)}))
	}
	require.NoError(t, reg.Reconcile("e", []generic.WakeTime{wt(9, 0), wt(21, 0)}))

	assert.Equal(t, 2, reg.TimerCount())
	assert.Equal(t, 2, clock.Active())
	assert.Equal(t, []generic.BankID{"a", "b", "c", "d", "e"}, reg.Banks(wt(9, 0)))
	assert.Equal(t, []generic.BankID{"e"}, reg.Banks(wt(21, 0)))
	assertBidirectional(t, reg)
}

func TestReconcile_IsIdempotent(t *testing.T) {
	reg, clock, _ := newTestRegistry(t)
	times := []generic.WakeTime{wt(9, 0), wt(18, 30)}

	require.NoError(t, reg.Reconcile("a", times))
	first := reg.Snapshot()
	anchors := clock.ActiveAnchors()

	require.NoError(t, reg.Reconcile("a", times))
	assert.Equal(t, first, reg.Snapshot())
	assert.Equal(t, anchors, clock.ActiveAnchors(), "no timer restarted")
}

func TestReconcile_AddAndRemoveTimes(t *testing.T) {
	reg, _, _ := newTestRegistry(t)

	require.NoError(t, reg.Reconcile("a", []generic.WakeTime{wt(9, 0), wt(12, 0)}))
	require.NoError(t, reg.Reconcile("a", []generic.WakeTime{wt(12, 0), wt(15, 0)}))

	assert.Equal(t, []generic.WakeTime{wt(12, 0), wt(15, 0)}, reg.Times("a"))
	assert.Nil(t, reg.Banks(wt(9, 0)))
	assert.Equal(t, 2, reg.TimerCount())
	assertBidirectional(t, reg)
}

func TestReconcile_RemovingLastBankCancelsTimer(t *testing.T) {
	// GIVEN: two banks both paying at 18:30
	// WHEN: one bank drops 18:30, then the other
	// THEN: the timer survives the first removal and is cancelled by the second
	reg, clock, _ := newTestRegistry(t)
	require.NoError(t, reg.Reconcile("a", []generic.WakeTime{wt(18, 30)}))
	require.NoError(t, reg.Reconcile("b", []generic.WakeTime{wt(18, 30)}))
	require.Equal(t, 1, clock.Active())

	require.NoError(t, reg.Reconcile("a", nil))
	assert.Equal(t, 1, clock.Active())
	assert.Equal(t, []generic.BankID{"b"}, reg.Banks(wt(18, 30)))
	assert.Empty(t, reg.Times("a"))

	require.NoError(t, reg.Remove("b"))
	assert.Equal(t, 0, clock.Active())
	assert.Equal(t, 0, reg.TimerCount())
	assertBidirectional(t, reg)
}

// =============================================================================
// FIRING
// =============================================================================

func TestFire_AnchorsTodayOrTomorrow(t *testing.T) {
	reg, clock, rec := newTestRegistry(t)

	// 07:00 has passed (it is 08:00), 09:00 has not.
	require.NoError(t, reg.Reconcile("early", []generic.WakeTime{wt(7, 0)}))
	require.NoError(t, reg.Reconcile("late", []generic.WakeTime{wt(9, 0)}))

	clock.Advance(2 * time.Hour)
	fires := rec.records()
	require.Len(t, fires, 1)
	assert.Equal(t, wt(9, 0), fires[0].Wake)
	assert.Equal(t, time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC), fires[0].At)

	clock.Advance(23 * time.Hour)
	fires = rec.records()
	require.Len(t, fires, 3)
	assert.Equal(t, wt(7, 0), fires[1].Wake)
	assert.Equal(t, time.Date(2025, time.March, 11, 7, 0, 0, 0, time.UTC), fires[1].At)
	assert.Equal(t, wt(9, 0), fires[2].Wake)
}

func TestFire_RepeatsEveryDay(t *testing.T) {
	reg, clock, rec := newTestRegistry(t)
	require.NoError(t, reg.Reconcile("a", []generic.WakeTime{wt(9, 0)}))

	clock.Advance(5 * 24 * time.Hour)
	fires := rec.records()
	require.Len(t, fires, 5)
	for i := 1; i < len(fires); i++ {
		assert.Equal(t, 24*time.Hour, fires[i].At.Sub(fires[i-1].At))
	}
}

func TestFire_SnapshotsMembershipAtFireTime(t *testing.T) {
	reg, clock, rec := newTestRegistry(t)
	require.NoError(t, reg.Reconcile("b", []generic.WakeTime{wt(9, 0)}))
	require.NoError(t, reg.Reconcile("a", []generic.WakeTime{wt(9, 0)}))
	require.NoError(t, reg.Reconcile("c", []generic.WakeTime{wt(9, 0)}))

	// c leaves after scheduling but before the fire.
	require.NoError(t, reg.Reconcile("c", nil))

	clock.Advance(time.Hour)
	fires := rec.records()
	require.Len(t, fires, 1)
	assert.Equal(t, []generic.BankID{"a", "b"}, fires[0].Banks, "sorted, without removed bank")
}

func TestFire_CancelledTimerDoesNotFire(t *testing.T) {
	reg, clock, rec := newTestRegistry(t)
	require.NoError(t, reg.Reconcile("a", []generic.WakeTime{wt(9, 0)}))
	require.NoError(t, reg.Remove("a"))

	clock.Advance(48 * time.Hour)
	assert.Empty(t, rec.records())
}

func TestClose_CancelsEverything(t *testing.T) {
	reg, clock, rec := newTestRegistry(t)
	require.NoError(t, reg.Reconcile("a", []generic.WakeTime{wt(9, 0), wt(10, 0)}))
	reg.Close()

	assert.Equal(t, 0, clock.Active())
	clock.Advance(48 * time.Hour)
	assert.Empty(t, rec.records())
	assert.Error(t, reg.Reconcile("a", []generic.WakeTime{wt(9, 0)}))
}

// =============================================================================
// FAILURES
// =============================================================================

func TestReconcile_SchedulingFailureIsolatedToOneTime(t *testing.T) {
	reg, clock, _ := newTestRegistry(t)
	clock.FailNext(wt(12, 0), errors.New("timer wheel full"))

	err := reg.Reconcile("a", []generic.WakeTime{wt(9, 0), wt(12, 0)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, generic.ErrScheduling))

	var serr *generic.SchedulingError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, wt(12, 0), serr.WakeTime)

	assert.Equal(t, []generic.WakeTime{wt(9, 0)}, reg.Times("a"))
	assert.Equal(t, 1, clock.Active())
	assertBidirectional(t, reg)

	// The next reconcile retries the failed time.
	require.NoError(t, reg.Reconcile("a", []generic.WakeTime{wt(9, 0), wt(12, 0)}))
	assert.Equal(t, []generic.WakeTime{wt(9, 0), wt(12, 0)}, reg.Times("a"))
}

type staticSource map[generic.BankID][]generic.WakeTime

func (s staticSource) AllPayoutTimes() map[generic.BankID][]generic.WakeTime { return s }

func TestRebuild_FromSource(t *testing.T) {
	src := staticSource{
		"a": {wt(9, 0)},
		"b": {wt(9, 0), wt(17, 0)},
	}
	reg, clock, _ := newTestRegistry(t, schedule.WithSource(src))
	require.NoError(t, reg.Reconcile("stale", []generic.WakeTime{wt(3, 0)}))

	require.NoError(t, reg.Rebuild())
	assert.Equal(t, 2, clock.Active())
	assert.Equal(t, []generic.BankID{"a", "b"}, reg.Banks(wt(9, 0)))
	assert.Empty(t, reg.Times("stale"))
	assertBidirectional(t, reg)
}

func TestRebuild_WithoutSourceFails(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	err := reg.Rebuild()
	assert.True(t, errors.Is(err, generic.ErrConsistency))
}

// =============================================================================
// SERIALIZATION WITH RUNNING BATCHES
// =============================================================================

// blockingFire parks every payout batch until release is closed.
type blockingFire struct {
	started chan struct{}
	release chan struct{}
	done    chan struct{}
}

func newBlockingFire() *blockingFire {
	return &blockingFire{
		started: make(chan struct{}),
		release: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (b *blockingFire) fire(_ context.Context, _ generic.WakeTime, _ []generic.BankID) {
	close(b.started)
	<-b.release
	close(b.done)
}

// startBlockedBatch fires the 09:00 timer for bank "a" on another goroutine
// and returns once the batch is running.
func startBlockedBatch(t *testing.T) (*schedule.Registry, *blockingFire) {
	t.Helper()
	clock := schedule.NewManualClock(time.Date(2025, time.March, 10, 8, 0, 0, 0, time.UTC))
	bf := newBlockingFire()
	reg := schedule.NewRegistry(context.Background(), clock, bf.fire)
	t.Cleanup(func() {
		select {
		case <-bf.release:
		default:
			close(bf.release)
		}
		reg.Close()
	})
	require.NoError(t, reg.Reconcile("a", []generic.WakeTime{wt(9, 0)}))

	go clock.Advance(time.Hour)
	select {
	case <-bf.started:
	case <-time.After(time.Second):
		t.Fatal("payout batch never started")
	}
	return reg, bf
}

func TestRemove_WaitsForRunningBatch(t *testing.T) {
	// GIVEN: a 09:00 batch for bank a is running
	reg, bf := startBlockedBatch(t)

	// WHEN: the bank is removed from another goroutine
	removed := make(chan error, 1)
	go func() { removed <- reg.Remove("a") }()

	// THEN: the removal waits for the batch
	select {
	case <-removed:
		t.Fatal("Remove returned while the batch was running")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, 1, reg.TimerCount())

	// AND: completes once the batch returns
	close(bf.release)
	select {
	case err := <-removed:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Remove never returned")
	}
	assert.Equal(t, 0, reg.TimerCount())
	assertBidirectional(t, reg)
}

func TestClose_WaitsForRunningBatch(t *testing.T) {
	// GIVEN: a running batch
	reg, bf := startBlockedBatch(t)

	// WHEN: the registry is closed
	closed := make(chan struct{})
	go func() {
		reg.Close()
		close(closed)
	}()

	// THEN: Close blocks until the batch finishes
	select {
	case <-closed:
		t.Fatal("Close returned while the batch was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(bf.release)
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close never returned")
	}
	select {
	case <-bf.done:
	default:
		t.Fatal("Close returned before the batch finished")
	}
}

func TestExclusive_WaitsForRunningBatch(t *testing.T) {
	reg, bf := startBlockedBatch(t)

	ran := make(chan struct{})
	go reg.Exclusive(func() { close(ran) })

	select {
	case <-ran:
		t.Fatal("Exclusive ran alongside the batch")
	case <-time.After(50 * time.Millisecond):
	}
	close(bf.release)
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("Exclusive never ran")
	}
}
