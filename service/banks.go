package service

import (
	"context"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
	"github.com/warp/bank-interest/bank"
	"github.com/warp/bank-interest/factory"
	"github.com/warp/bank-interest/generic"
	"github.com/warp/bank-interest/pkg/logger"
	"github.com/warp/bank-interest/pkg/logger/slogx"
)

// BankView is a read-only picture of one bank.
type BankView struct {
	ID          generic.BankID
	Name        string
	PayoutTimes []generic.WakeTime
	Rules       bank.Rules
	Fields      []bank.FieldInfo
	CreatedAt   time.Time
}

func (s *Service) view(id generic.BankID, e *bankEntry) BankView {
	return BankView{
		ID:          id,
		Name:        e.name,
		PayoutTimes: e.cfg.PayoutTimes(),
		Rules:       e.cfg.Rules(),
		Fields:      e.cfg.Describe(),
		CreatedAt:   e.createdAt,
	}
}

// =============================================================================
// BANK LIFECYCLE
// =============================================================================

// CreateBank validates and stores a new bank, then schedules its payout
// times. Fields absent from bj inherit the global defaults.
func (s *Service) CreateBank(ctx context.Context, bj factory.BankJSON) (BankView, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	cfg, err := s.factory.FromJSON(bj)
	if err != nil {
		return BankView{}, err
	}
	id := cfg.BankID()
	if _, ok := s.entry(id); ok {
		return BankView{}, errors.Wrapf(generic.ErrBankExists, "bank %s", id)
	}
	name := bj.Name
	if name == "" {
		name = string(id)
	}

	now := s.clock.Now()
	if err := s.persist(ctx, id, name, cfg, now); err != nil {
		return BankView{}, err
	}

	e := &bankEntry{name: name, cfg: cfg, createdAt: now}
	s.mu.Lock()
	s.banks[id] = e
	s.mu.Unlock()

	// scheduling failures are operator-visible only
	_ = s.reconcileLocked(ctx, id)

	logger.InfoContext(ctx, "Bank created",
		slogx.String("bank", string(id)), slogx.Strings("payout_times", lo.Map(cfg.PayoutTimes(), func(t generic.WakeTime, _ int) string { return t.String() })))
	return s.view(id, e), nil
}

// DeleteBank removes the bank, closes its accounts and cancels any timer
// it alone was keeping alive. Ledger history is kept.
func (s *Service) DeleteBank(ctx context.Context, id generic.BankID) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.mustEntry(id); err != nil {
		return err
	}

	// no payout batch may iterate the bank's accounts while they are closed
	var err error
	s.registry.Exclusive(func() {
		if err = s.store.DeleteBank(ctx, id); err != nil {
			return
		}
		s.mu.Lock()
		delete(s.banks, id)
		s.mu.Unlock()
	})
	if err != nil {
		return err
	}

	if err := s.registry.Remove(id); err != nil {
		logger.ErrorContext(ctx, "Failed to unschedule deleted bank", err, slogx.String("bank", string(id)))
	}
	logger.InfoContext(ctx, "Bank deleted", slogx.String("bank", string(id)))
	return nil
}

// ListBanks returns every bank ordered by ID.
func (s *Service) ListBanks() []BankView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	views := make([]BankView, 0, len(s.banks))
	for id, e := range s.banks {
		views = append(views, s.view(id, e))
	}
	sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })
	return views
}

func (s *Service) GetBank(id generic.BankID) (BankView, error) {
	e, err := s.mustEntry(id)
	if err != nil {
		return BankView{}, err
	}
	return s.view(id, e), nil
}

// Export renders the bank as its stored JSON document.
func (s *Service) Export(id generic.BankID) (factory.BankJSON, error) {
	e, err := s.mustEntry(id)
	if err != nil {
		return factory.BankJSON{}, err
	}
	return s.factory.ToJSON(e.name, e.cfg), nil
}

// =============================================================================
// FIELDS
// =============================================================================

// SetResult is the outcome of SetField.
type SetResult struct {
	Field bank.Field
	// Value is the formatted effective value after the update.
	Value string
	// Applied is false when the field may not be overridden; nothing changed.
	Applied bool
}

// SetField updates one field of a bank from user input. Relative input
// applies to the currently resolved value. Input for a field the bank may
// not override is accepted and ignored.
func (s *Service) SetField(ctx context.Context, id generic.BankID, name, raw string) (SetResult, error) {
	f, ok := bank.ParseField(name)
	if !ok {
		return SetResult{}, &generic.ParseError{Field: name, Input: raw, Reason: "unknown field"}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	e, err := s.mustEntry(id)
	if err != nil {
		return SetResult{}, err
	}

	prev, hadPrev := e.cfg.LocalValues()[f]
	formatted, applied, err := e.cfg.Set(f, raw)
	if err != nil {
		return SetResult{}, err
	}
	if !applied {
		logger.InfoContext(ctx, "Field not overridable, update ignored",
			slogx.String("bank", string(id)), slogx.String("field", string(f)))
		return SetResult{Field: f, Value: e.cfg.Resolve(f).String()}, nil
	}

	if err := s.persist(ctx, id, e.name, e.cfg, e.createdAt); err != nil {
		// put the previous local value back so memory matches storage
		if hadPrev {
			e.cfg.Restore(f, prev)
		} else {
			_, _, _ = e.cfg.Set(f, "")
		}
		return SetResult{}, err
	}

	if f == bank.FieldPayoutTimes {
		_ = s.reconcileLocked(ctx, id)
	}
	logger.InfoContext(ctx, "Bank field updated",
		slogx.String("bank", string(id)), slogx.String("field", string(f)), slogx.String("value", formatted))
	return SetResult{Field: f, Value: formatted, Applied: true}, nil
}

// Describe lists every field of a bank with its effective value and source.
func (s *Service) Describe(id generic.BankID) ([]bank.FieldInfo, error) {
	e, err := s.mustEntry(id)
	if err != nil {
		return nil, err
	}
	return e.cfg.Describe(), nil
}

// =============================================================================
// GLOBAL DEFAULTS
// =============================================================================

// SetDefault replaces the global default of a field. Relative input applies
// to the current default. Every bank that inherits the field sees the new
// value on its next read. Defaults are not stored; a restart reverts to
// the configuration.
func (s *Service) SetDefault(ctx context.Context, name, raw string) (string, error) {
	f, ok := bank.ParseField(name)
	if !ok {
		return "", &generic.ParseError{Field: name, Input: raw, Reason: "unknown field"}
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	v, err := bank.ParseRelative(f, raw, s.defaults.Default(f))
	if err != nil {
		return "", err
	}

	s.defaults.SetDefault(f, v)
	if f == bank.FieldPayoutTimes {
		_ = s.reconcileAllLocked(ctx)
	}
	formatted := bank.Format(f, v)
	logger.InfoContext(ctx, "Global default updated", slogx.String("field", string(f)), slogx.String("value", formatted))
	return formatted, nil
}

// SetOverridable changes whether banks may override a field. Stored local
// values are kept either way and become active or dormant immediately.
func (s *Service) SetOverridable(ctx context.Context, name string, allowed bool) error {
	f, ok := bank.ParseField(name)
	if !ok {
		return &generic.ParseError{Field: name, Reason: "unknown field"}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.defaults.SetOverridable(f, allowed)
	if f == bank.FieldPayoutTimes {
		_ = s.reconcileAllLocked(ctx)
	}
	logger.InfoContext(ctx, "Override policy updated", slogx.String("field", string(f)), slogx.Bool("overridable", allowed))
	return nil
}

// Defaults lists the global value and override policy of every field.
func (s *Service) Defaults() []bank.FieldInfo {
	infos := make([]bank.FieldInfo, 0, len(bank.Fields))
	for _, f := range bank.Fields {
		infos = append(infos, bank.FieldInfo{
			Field:       f,
			Value:       bank.Format(f, s.defaults.Default(f)),
			Source:      bank.SourceInherited,
			Overridable: s.defaults.IsOverridable(f),
		})
	}
	return infos
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Service) persist(ctx context.Context, id generic.BankID, name string, cfg *bank.Config, createdAt time.Time) error {
	doc, err := s.factory.Marshal(name, cfg)
	if err != nil {
		return err
	}
	return s.store.SaveBank(ctx, bank.Record{
		ID:         id,
		Name:       name,
		ConfigJSON: doc,
		CreatedAt:  createdAt,
		UpdatedAt:  s.clock.Now(),
	})
}
