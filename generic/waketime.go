package generic

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// =============================================================================
// WAKE TIME - Date-independent time of day used as a scheduling key
// =============================================================================

// WakeTime is a time of day (no date). It is comparable and safe to use as
// a map key.
type WakeTime struct {
	Hour   int
	Minute int
	Second int
}

// Day is the fixed interval between two fires of the same WakeTime.
const Day = 24 * time.Hour

func NewWakeTime(hour, minute, second int) (WakeTime, error) {
	w := WakeTime{Hour: hour, Minute: minute, Second: second}
	if !w.Valid() {
		return WakeTime{}, errors.Newf("time of day out of range: %02d:%02d:%02d", hour, minute, second)
	}
	return w, nil
}

func MustWakeTime(hour, minute, second int) WakeTime {
	w, err := NewWakeTime(hour, minute, second)
	if err != nil {
		panic(err)
	}
	return w
}

// ParseWakeTime accepts "HH:MM" and "HH:MM:SS".
func ParseWakeTime(s string) (WakeTime, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return WakeTime{}, errors.Newf("expected HH:MM or HH:MM:SS, got %q", s)
	}
	var fields [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return WakeTime{}, errors.Newf("invalid time of day %q", s)
		}
		fields[i] = n
	}
	return NewWakeTime(fields[0], fields[1], fields[2])
}

func (w WakeTime) Valid() bool {
	return w.Hour >= 0 && w.Hour < 24 &&
		w.Minute >= 0 && w.Minute < 60 &&
		w.Second >= 0 && w.Second < 60
}

func (w WakeTime) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", w.Hour, w.Minute, w.Second)
}

// SecondOfDay returns the offset from midnight in seconds.
func (w WakeTime) SecondOfDay() int { return w.Hour*3600 + w.Minute*60 + w.Second }

func (w WakeTime) Before(other WakeTime) bool { return w.SecondOfDay() < other.SecondOfDay() }

// On returns the instant of this time of day on the date of t, in t's location.
func (w WakeTime) On(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), w.Hour, w.Minute, w.Second, 0, t.Location())
}

// Next returns the first occurrence strictly after now. If today's
// occurrence has already passed (or is exactly now), tomorrow's is used.
func (w WakeTime) Next(now time.Time) time.Time {
	candidate := w.On(now)
	if !candidate.After(now) {
		candidate = w.On(now.AddDate(0, 0, 1))
	}
	return candidate
}

// WakeTimeOf is the time of day of t, truncated to the second.
func WakeTimeOf(t time.Time) WakeTime {
	return WakeTime{Hour: t.Hour(), Minute: t.Minute(), Second: t.Second()}
}

func (w WakeTime) MarshalText() ([]byte, error) { return []byte(w.String()), nil }

func (w *WakeTime) UnmarshalText(b []byte) error {
	parsed, err := ParseWakeTime(string(b))
	if err != nil {
		return err
	}
	*w = parsed
	return nil
}

// SortWakeTimes sorts in place by time of day and returns the slice.
func SortWakeTimes(times []WakeTime) []WakeTime {
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	return times
}

// SortBankIDs sorts in place and returns the slice. Payout order across banks
// sharing a fire is by bank ID.
func SortBankIDs(ids []BankID) []BankID {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
