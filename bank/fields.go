package bank

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/warp/bank-interest/generic"
)

// =============================================================================
// FIELDS - Every configurable interest setting of a bank
// =============================================================================

type Field string

const (
	FieldInterestRate                  Field = "interest-rate"
	FieldMultiplierLadder              Field = "multiplier-ladder"
	FieldPayoutTimes                   Field = "payout-times"
	FieldInitialDelay                  Field = "initial-delay"
	FieldCountDelayWhileOffline        Field = "count-delay-while-offline"
	FieldAllowedOfflinePayouts         Field = "allowed-offline-payouts"
	FieldOfflineMultiplierDecrement    Field = "offline-multiplier-decrement"
	FieldOfflinePayoutsBeforeReset     Field = "offline-payouts-before-reset"
	FieldWithdrawalMultiplierDecrement Field = "withdrawal-multiplier-decrement"
	FieldMinimumBalance                Field = "minimum-balance"
	FieldLowBalanceFee                 Field = "low-balance-fee"
	FieldPayInterestOnLowBalance       Field = "pay-interest-on-low-balance"
)

// Fields lists every field in display order.
var Fields = []Field{
	FieldInterestRate,
	FieldMultiplierLadder,
	FieldPayoutTimes,
	FieldInitialDelay,
	FieldCountDelayWhileOffline,
	FieldAllowedOfflinePayouts,
	FieldOfflineMultiplierDecrement,
	FieldOfflinePayoutsBeforeReset,
	FieldWithdrawalMultiplierDecrement,
	FieldMinimumBalance,
	FieldLowBalanceFee,
	FieldPayInterestOnLowBalance,
}

func ParseField(s string) (Field, bool) {
	f := Field(strings.ToLower(strings.TrimSpace(s)))
	_, ok := handlers[f]
	return f, ok
}

// fieldHandler knows how to read, write, parse and format one field.
// parse receives the field's current resolved value for relative updates.
type fieldHandler struct {
	get    func(r *Rules) any
	put    func(r *Rules, v any)
	parse  func(f Field, raw string, current any) (any, error)
	format func(v any) string
}

var handlers = map[Field]fieldHandler{
	FieldInterestRate: {
		get:    func(r *Rules) any { return r.InterestRate },
		put:    func(r *Rules, v any) { r.InterestRate = v.(decimal.Decimal) },
		parse:  decimalParser(decimal.Zero),
		format: formatDecimal,
	},
	FieldMultiplierLadder: {
		get:    func(r *Rules) any { return append([]int(nil), r.MultiplierLadder...) },
		put:    func(r *Rules, v any) { r.MultiplierLadder = append([]int(nil), v.([]int)...) },
		parse:  parseLadder,
		format: formatLadder,
	},
	FieldPayoutTimes: {
		get:    func(r *Rules) any { return append([]generic.WakeTime(nil), r.PayoutTimes...) },
		put:    func(r *Rules, v any) { r.PayoutTimes = append([]generic.WakeTime(nil), v.([]generic.WakeTime)...) },
		parse:  parsePayoutTimes,
		format: formatPayoutTimes,
	},
	FieldInitialDelay: {
		get:    func(r *Rules) any { return r.InitialDelay },
		put:    func(r *Rules, v any) { r.InitialDelay = v.(int) },
		parse:  intParser(0),
		format: formatInt,
	},
	FieldCountDelayWhileOffline: {
		get:    func(r *Rules) any { return r.CountDelayWhileOffline },
		put:    func(r *Rules, v any) { r.CountDelayWhileOffline = v.(bool) },
		parse:  parseBool,
		format: formatBool,
	},
	FieldAllowedOfflinePayouts: {
		get:    func(r *Rules) any { return r.AllowedOfflinePayouts },
		put:    func(r *Rules, v any) { r.AllowedOfflinePayouts = v.(int) },
		parse:  intParser(-1),
		format: formatInt,
	},
	FieldOfflineMultiplierDecrement: {
		get:    func(r *Rules) any { return r.OfflineMultiplierDecrement },
		put:    func(r *Rules, v any) { r.OfflineMultiplierDecrement = v.(int) },
		parse:  intParser(minInt),
		format: formatInt,
	},
	FieldOfflinePayoutsBeforeReset: {
		get:    func(r *Rules) any { return r.OfflinePayoutsBeforeReset },
		put:    func(r *Rules, v any) { r.OfflinePayoutsBeforeReset = v.(int) },
		parse:  intParser(-1),
		format: formatInt,
	},
	FieldWithdrawalMultiplierDecrement: {
		get:    func(r *Rules) any { return r.WithdrawalMultiplierDecrement },
		put:    func(r *Rules, v any) { r.WithdrawalMultiplierDecrement = v.(int) },
		parse:  intParser(minInt),
		format: formatInt,
	},
	FieldMinimumBalance: {
		get:    func(r *Rules) any { return r.MinimumBalance },
		put:    func(r *Rules, v any) { r.MinimumBalance = v.(decimal.Decimal) },
		parse:  decimalParser(decimal.Zero),
		format: formatDecimal,
	},
	FieldLowBalanceFee: {
		get:    func(r *Rules) any { return r.LowBalanceFee },
		put:    func(r *Rules, v any) { r.LowBalanceFee = v.(decimal.Decimal) },
		parse:  decimalParser(decimal.Zero),
		format: formatDecimal,
	},
	FieldPayInterestOnLowBalance: {
		get:    func(r *Rules) any { return r.PayInterestOnLowBalance },
		put:    func(r *Rules, v any) { r.PayInterestOnLowBalance = v.(bool) },
		parse:  parseBool,
		format: formatBool,
	},
}

const minInt = -1 << 31

// Format renders a value of the given field for display.
func Format(f Field, v any) string {
	h, ok := handlers[f]
	if !ok || v == nil {
		return ""
	}
	return h.format(v)
}

// Parse parses raw input for a field as an absolute value.
func Parse(f Field, raw string) (any, error) {
	h, ok := handlers[f]
	if !ok {
		return nil, &generic.ParseError{Field: string(f), Input: raw, Reason: "unknown field"}
	}
	return h.parse(f, raw, nil)
}

// ParseRelative parses raw input for a field, resolving relative input
// against current.
func ParseRelative(f Field, raw string, current any) (any, error) {
	h, ok := handlers[f]
	if !ok {
		return nil, &generic.ParseError{Field: string(f), Input: raw, Reason: "unknown field"}
	}
	return h.parse(f, raw, current)
}

// Check validates an already typed value against the field's constraints.
func Check(f Field, v any) error {
	h, ok := handlers[f]
	if !ok {
		return &generic.ParseError{Field: string(f), Reason: "unknown field"}
	}
	raw := h.format(v)
	switch v.(type) {
	case int, decimal.Decimal:
		raw = "=" + raw
	}
	_, err := h.parse(f, raw, nil)
	return err
}

// =============================================================================
// PARSERS
// =============================================================================

// splitRelative reports whether raw is a relative update. A leading '+' or
// '-' means relative; a leading '=' forces an absolute value.
func splitRelative(raw string) (string, int, bool) {
	switch {
	case strings.HasPrefix(raw, "="):
		return strings.TrimSpace(raw[1:]), 0, false
	case strings.HasPrefix(raw, "+"):
		return strings.TrimSpace(raw[1:]), 1, true
	case strings.HasPrefix(raw, "-"):
		return strings.TrimSpace(raw[1:]), -1, true
	}
	return raw, 0, false
}

func decimalParser(min decimal.Decimal) func(Field, string, any) (any, error) {
	return func(f Field, raw string, current any) (any, error) {
		input := strings.TrimSpace(raw)
		body, sign, relative := splitRelative(input)
		percent := strings.HasSuffix(body, "%")
		body = strings.TrimSpace(strings.TrimSuffix(body, "%"))
		d, err := decimal.NewFromString(body)
		if err != nil {
			return nil, &generic.ParseError{Field: string(f), Input: raw, Reason: "not a decimal number"}
		}
		if percent {
			d = d.Shift(-2)
		}
		if relative {
			base, _ := current.(decimal.Decimal)
			d = base.Add(d.Mul(decimal.NewFromInt(int64(sign))))
		}
		if d.LessThan(min) {
			return nil, &generic.ParseError{Field: string(f), Input: raw, Reason: fmt.Sprintf("must be at least %s", min)}
		}
		return d, nil
	}
}

func intParser(min int) func(Field, string, any) (any, error) {
	return func(f Field, raw string, current any) (any, error) {
		input := strings.TrimSpace(raw)
		body, sign, relative := splitRelative(input)
		n, err := strconv.Atoi(body)
		if err != nil {
			return nil, &generic.ParseError{Field: string(f), Input: raw, Reason: "not a whole number"}
		}
		if relative {
			base, _ := current.(int)
			n = base + sign*n
		}
		if n < min {
			return nil, &generic.ParseError{Field: string(f), Input: raw, Reason: fmt.Sprintf("must be at least %d", min)}
		}
		return n, nil
	}
}

func parseBool(f Field, raw string, _ any) (any, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "yes", "on", "1", "y":
		return true, nil
	case "false", "no", "off", "0", "n":
		return false, nil
	}
	return nil, &generic.ParseError{Field: string(f), Input: raw, Reason: "expected true or false"}
}

func splitList(raw string) []string {
	trimmed := strings.TrimSpace(raw)
	trimmed = strings.TrimPrefix(trimmed, "[")
	trimmed = strings.TrimSuffix(trimmed, "]")
	parts := strings.FieldsFunc(trimmed, func(r rune) bool { return r == ',' || r == ' ' || r == ';' })
	return lo.Filter(parts, func(p string, _ int) bool { return p != "" })
}

func parseLadder(f Field, raw string, _ any) (any, error) {
	ladder := []int{}
	for _, p := range splitList(raw) {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return nil, &generic.ParseError{Field: string(f), Input: raw, Reason: fmt.Sprintf("%q is not a non-negative whole number", p)}
		}
		ladder = append(ladder, n)
	}
	return ladder, nil
}

func parsePayoutTimes(f Field, raw string, _ any) (any, error) {
	times := []generic.WakeTime{}
	for _, p := range splitList(raw) {
		w, err := generic.ParseWakeTime(p)
		if err != nil {
			return nil, &generic.ParseError{Field: string(f), Input: raw, Reason: err.Error()}
		}
		times = append(times, w)
	}
	return generic.SortWakeTimes(lo.Uniq(times)), nil
}

// =============================================================================
// FORMATTERS
// =============================================================================

func formatDecimal(v any) string { return v.(decimal.Decimal).String() }
func formatInt(v any) string     { return strconv.Itoa(v.(int)) }
func formatBool(v any) string    { return strconv.FormatBool(v.(bool)) }

func formatLadder(v any) string {
	return "[" + strings.Join(lo.Map(v.([]int), func(n int, _ int) string { return strconv.Itoa(n) }), ", ") + "]"
}

func formatPayoutTimes(v any) string {
	return "[" + strings.Join(lo.Map(v.([]generic.WakeTime), func(w generic.WakeTime, _ int) string { return w.String() }), ", ") + "]"
}
