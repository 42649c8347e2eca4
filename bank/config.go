/*
Package bank models a bank's interest policy and the per-account payout
state machine.

PURPOSE:
  Each bank stores its own values for the interest fields, but the server
  operator decides which of those fields a bank is allowed to override.
  Reading a field therefore resolves to the bank's local value only while
  overriding is permitted; otherwise the global default wins, and the local
  value stays stored but dormant.

KEY TYPES:
  - Config:         Per-bank stored values + resolution against GlobalDefaults
  - Resolved:       Local(value) | Inherited(value), computed on read
  - Rules:          Snapshot of every resolved field, consumed by the engine
  - AccountStatus:  Per-account multiplier/delay/offline-budget state machine

SETTING VALUES:
  Set(field, raw) parses raw into the field's type:
    ""        reset to the global default (local value removed)
    "+2"      relative to the current RESOLVED value
    "=-1"     absolute negative value
  Fields that are not overridable are a silent no-op (ok == false).

SEE ALSO:
  - fields.go: Per-field parse/format handlers
  - status.go: AccountStatus transitions
  - schedule/registry.go: Must be reconciled after payout-times changes
*/
package bank

import (
	"strings"
	"sync"

	"github.com/warp/bank-interest/generic"
)

// =============================================================================
// RESOLVED - Where a field's effective value comes from
// =============================================================================

type Source string

const (
	SourceLocal     Source = "local"
	SourceInherited Source = "inherited"
)

// Resolved is the effective value of a field.
type Resolved struct {
	Field  Field
	Value  any
	Source Source
}

func Local(f Field, v any) Resolved     { return Resolved{Field: f, Value: v, Source: SourceLocal} }
func Inherited(f Field, v any) Resolved { return Resolved{Field: f, Value: v, Source: SourceInherited} }

func (r Resolved) IsLocal() bool  { return r.Source == SourceLocal }
func (r Resolved) String() string { return Format(r.Field, r.Value) }

// =============================================================================
// CONFIG
// =============================================================================

// Config holds one bank's locally stored interest values.
type Config struct {
	mu       sync.RWMutex
	bankID   generic.BankID
	defaults GlobalDefaults
	local    map[Field]any
}

func NewConfig(bankID generic.BankID, defaults GlobalDefaults) *Config {
	return &Config{
		bankID:   bankID,
		defaults: defaults,
		local:    make(map[Field]any),
	}
}

func (c *Config) BankID() generic.BankID { return c.bankID }

// Resolve returns the effective value of f.
func (c *Config) Resolve(f Field) Resolved {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.resolveLocked(f)
}

func (c *Config) resolveLocked(f Field) Resolved {
	if v, ok := c.local[f]; ok && c.defaults.IsOverridable(f) {
		return Local(f, copyValue(v))
	}
	return Inherited(f, c.defaults.Default(f))
}

// Get is shorthand for Resolve(f).Value.
func (c *Config) Get(f Field) any { return c.Resolve(f).Value }

// Rules resolves every field at once.
func (c *Config) Rules() Rules {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var r Rules
	for _, f := range Fields {
		r.set(f, c.resolveLocked(f).Value)
	}
	return r
}

// PayoutTimes returns the resolved payout times, sorted and unique.
func (c *Config) PayoutTimes() []generic.WakeTime {
	times, _ := c.Get(FieldPayoutTimes).([]generic.WakeTime)
	return times
}

// Set parses raw and stores it as the bank's local value for f. It returns
// the formatted effective value. ok is false when f may not be overridden.
//
// When f is FieldPayoutTimes the caller must reconcile the schedule.
func (c *Config) Set(f Field, raw string) (formatted string, ok bool, err error) {
	h, known := handlers[f]
	if !known {
		return "", false, &generic.ParseError{Field: string(f), Input: raw, Reason: "unknown field"}
	}
	if !c.defaults.IsOverridable(f) {
		return "", false, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if strings.TrimSpace(raw) == "" {
		delete(c.local, f)
		return h.format(c.defaults.Default(f)), true, nil
	}

	current := c.resolveLocked(f).Value
	v, err := h.parse(f, raw, current)
	if err != nil {
		return "", false, err
	}
	c.local[f] = v
	return h.format(v), true, nil
}

// Restore loads a previously stored local value without consulting the
// override policy. Used when reading banks back from storage.
func (c *Config) Restore(f Field, v any) {
	if _, known := handlers[f]; !known || v == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.local[f] = copyValue(v)
}

// LocalValues returns a copy of every stored local value, dormant or not.
func (c *Config) LocalValues() map[Field]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[Field]any, len(c.local))
	for f, v := range c.local {
		out[f] = copyValue(v)
	}
	return out
}

// FieldInfo describes one field for display.
type FieldInfo struct {
	Field       Field
	Value       string
	Source      Source
	Overridable bool
	Stored      string // dormant or active local value, empty if none
}

func (c *Config) Describe() []FieldInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	infos := make([]FieldInfo, 0, len(Fields))
	for _, f := range Fields {
		r := c.resolveLocked(f)
		info := FieldInfo{
			Field:       f,
			Value:       Format(f, r.Value),
			Source:      r.Source,
			Overridable: c.defaults.IsOverridable(f),
		}
		if v, ok := c.local[f]; ok {
			info.Stored = Format(f, v)
		}
		infos = append(infos, info)
	}
	return infos
}

func copyValue(v any) any {
	switch t := v.(type) {
	case []int:
		return append([]int(nil), t...)
	case []generic.WakeTime:
		return append([]generic.WakeTime(nil), t...)
	}
	return v
}
