/*
Package service wires bank configuration, the payout registry and the payout
engine together and exposes the bank and account lifecycle.

PURPOSE:
  The service is the owner of every bank's Config. It keeps the payout
  registry in step with the banks' resolved payout times, and serves as the
  registry's rebuild source and the engine's rules source.

LOCKING:
  writeMu serializes every operation that changes a bank or the global
  defaults, including the registry reconcile that follows it, so the last
  reconcile always sees the latest payout times.
  mu guards the banks map only and is never held while calling the store or
  the registry. The registry calls back into AllPayoutTimes while holding
  its own lock.

  Lock order: writeMu -> store | registry -> mu. Bank deletion runs inside
  registry.Exclusive so it never overlaps a payout batch.

USAGE:
  svc := service.New(ctx, store, defaults, tracker, service.WithMetrics(m))
  if err := svc.Start(ctx); err != nil { ... }
  defer svc.Close()

SEE ALSO:
  - schedule/registry.go: Timer bookkeeping
  - payout/engine.go: What a fire does
  - factory/bank.go: Stored bank document
*/
package service

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
	"github.com/warp/bank-interest/bank"
	"github.com/warp/bank-interest/factory"
	"github.com/warp/bank-interest/generic"
	"github.com/warp/bank-interest/payout"
	"github.com/warp/bank-interest/pkg/logger"
	"github.com/warp/bank-interest/pkg/logger/slogx"
	"github.com/warp/bank-interest/schedule"
)

// =============================================================================
// COLLABORATORS
// =============================================================================

// Store is everything the service persists.
type Store interface {
	generic.Store
	payout.Store
	payout.NotificationSink

	SaveBank(ctx context.Context, rec bank.Record) error
	ListBanks(ctx context.Context) ([]bank.Record, error)
	DeleteBank(ctx context.Context, id generic.BankID) error

	CreateAccount(ctx context.Context, a bank.Account) error
	GetAccount(ctx context.Context, id generic.AccountID) (bank.Account, error)
	CloseAccount(ctx context.Context, id generic.AccountID) error

	Runs(ctx context.Context, limit int) ([]payout.Run, error)
	Notifications(ctx context.Context, owner generic.OwnerID, limit int) ([]payout.Event, error)
}

// Presence is the presence oracle plus the heartbeat surface.
type Presence interface {
	payout.PresenceOracle
	MarkOnline(owner generic.OwnerID)
	MarkOffline(owner generic.OwnerID)
	LastSeen(owner generic.OwnerID) (time.Time, bool)
	Online() []generic.OwnerID
}

// =============================================================================
// SERVICE
// =============================================================================

type bankEntry struct {
	name      string
	cfg       *bank.Config
	createdAt time.Time
}

type Service struct {
	store    Store
	ledger   generic.Ledger
	defaults *bank.Defaults
	factory  *factory.BankFactory
	presence Presence
	clock    schedule.Clock
	metrics  *payout.Metrics
	engine   *payout.Engine
	registry *schedule.Registry

	writeMu sync.Mutex

	mu    sync.RWMutex
	banks map[generic.BankID]*bankEntry
}

type Option func(*Service)

// WithClock replaces the wall clock. Tests use schedule.ManualClock.
func WithClock(c schedule.Clock) Option { return func(s *Service) { s.clock = c } }

func WithMetrics(m *payout.Metrics) Option { return func(s *Service) { s.metrics = m } }

// New builds the service. Fires run under a context derived from ctx.
// No timer is started before Start.
func New(ctx context.Context, store Store, defaults *bank.Defaults, presence Presence, opts ...Option) *Service {
	s := &Service{
		store:    store,
		ledger:   generic.NewLedger(store),
		defaults: defaults,
		factory:  factory.NewBankFactory(defaults),
		presence: presence,
		banks:    make(map[generic.BankID]*bankEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.clock == nil {
		s.clock = schedule.NewRealClock(time.Local)
	}

	s.engine = payout.NewEngine(store, s, presence,
		payout.WithSink(payout.MultiSink{payout.LogSink{}, store}),
		payout.WithMetrics(s.metrics),
		payout.WithNow(s.clock.Now),
	)
	s.registry = schedule.NewRegistry(ctx, s.clock, s.engine.Fire, schedule.WithSource(s))
	return s
}

// Start loads every stored bank and schedules its payout times. A bank
// whose stored document no longer validates is logged and left out.
func (s *Service) Start(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	recs, err := s.store.ListBanks(ctx)
	if err != nil {
		return errors.Wrap(err, "load banks")
	}

	loaded := make(map[generic.BankID]*bankEntry, len(recs))
	for _, rec := range recs {
		cfg, err := s.factory.FromRecord(rec)
		if err != nil {
			logger.ErrorContext(ctx, "Skipping invalid bank", err, slogx.String("bank", string(rec.ID)))
			continue
		}
		loaded[rec.ID] = &bankEntry{name: rec.Name, cfg: cfg, createdAt: rec.CreatedAt}
	}

	s.mu.Lock()
	s.banks = loaded
	s.mu.Unlock()

	for _, id := range generic.SortBankIDs(lo.Keys(loaded)) {
		// scheduling errors are logged by the registry and retried on the next reconcile
		_ = s.reconcileLocked(ctx, id)
	}
	logger.InfoContext(ctx, "Service started",
		slogx.Int("banks", len(loaded)), slogx.Int("timers", s.registry.TimerCount()))
	return nil
}

// Close cancels every timer and waits for an in-flight payout, which stops
// at the next account. The wall clock refuses new timers afterwards.
func (s *Service) Close() {
	s.registry.Close()
	if c, ok := s.clock.(interface{ Stop() }); ok {
		c.Stop()
	}
}

// =============================================================================
// REGISTRY AND ENGINE CALLBACKS
// =============================================================================

// AllPayoutTimes implements schedule.Source.
func (s *Service) AllPayoutTimes() map[generic.BankID][]generic.WakeTime {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[generic.BankID][]generic.WakeTime, len(s.banks))
	for id, e := range s.banks {
		out[id] = e.cfg.PayoutTimes()
	}
	return out
}

// Rules implements payout.RulesSource.
func (s *Service) Rules(bankID generic.BankID) (bank.Rules, bool) {
	e, ok := s.entry(bankID)
	if !ok {
		return bank.Rules{}, false
	}
	return e.cfg.Rules(), true
}

func (s *Service) entry(id generic.BankID) (*bankEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.banks[id]
	return e, ok
}

func (s *Service) mustEntry(id generic.BankID) (*bankEntry, error) {
	e, ok := s.entry(id)
	if !ok {
		return nil, errors.Wrapf(generic.ErrBankNotFound, "bank %s", id)
	}
	return e, nil
}

// reconcileLocked pushes the bank's current payout times to the registry.
// A missing bank is removed. Caller holds writeMu.
func (s *Service) reconcileLocked(ctx context.Context, id generic.BankID) error {
	var times []generic.WakeTime
	if e, ok := s.entry(id); ok {
		times = e.cfg.PayoutTimes()
	}
	if err := s.registry.Reconcile(id, times); err != nil {
		logger.WarnContext(ctx, "Payout times only partly scheduled",
			slogx.String("bank", string(id)), slogx.Error(err))
		return err
	}
	return nil
}

func (s *Service) reconcileAllLocked(ctx context.Context) error {
	s.mu.RLock()
	ids := generic.SortBankIDs(lo.Keys(s.banks))
	s.mu.RUnlock()

	var errs error
	for _, id := range ids {
		errs = errors.CombineErrors(errs, s.reconcileLocked(ctx, id))
	}
	return errs
}

// =============================================================================
// SCHEDULE AND RUNS
// =============================================================================

// Schedule lists every live payout timer.
func (s *Service) Schedule() []schedule.Entry {
	return s.registry.Snapshot()
}

// VerifySchedule checks the registry's index invariant.
func (s *Service) VerifySchedule() error {
	return s.registry.Verify()
}

// RunNow pays one bank immediately, serialized with timer fires. Manual
// runs are not deduplicated against the day's timer payouts.
func (s *Service) RunNow(ctx context.Context, bankID generic.BankID) (payout.Run, error) {
	if _, err := s.mustEntry(bankID); err != nil {
		return payout.Run{}, err
	}
	wake := generic.WakeTimeOf(s.clock.Now())
	ctx = payout.WithTrigger(ctx, payout.TriggerManual)

	var run payout.Run
	s.registry.Exclusive(func() {
		run = s.engine.RunPayout(ctx, wake, []generic.BankID{bankID})
	})
	return run, nil
}

func (s *Service) Runs(ctx context.Context, limit int) ([]payout.Run, error) {
	return s.store.Runs(ctx, limit)
}

func (s *Service) Notifications(ctx context.Context, owner generic.OwnerID, limit int) ([]payout.Event, error) {
	return s.store.Notifications(ctx, owner, limit)
}

// =============================================================================
// PRESENCE
// =============================================================================

func (s *Service) MarkOnline(owner generic.OwnerID)  { s.presence.MarkOnline(owner) }
func (s *Service) MarkOffline(owner generic.OwnerID) { s.presence.MarkOffline(owner) }

func (s *Service) IsOnline(owner generic.OwnerID) bool { return s.presence.IsOnline(owner) }

func (s *Service) LastSeen(owner generic.OwnerID) (time.Time, bool) {
	return s.presence.LastSeen(owner)
}

func (s *Service) Online() []generic.OwnerID { return s.presence.Online() }
