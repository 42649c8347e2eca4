package payout

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Observe(t *testing.T) {
	m := NewMetrics("bank", prometheus.NewRegistry())
	start := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)

	m.observe(&Run{
		Trigger:       TriggerTimer,
		Status:        RunPartial,
		Paid:          3,
		Skipped:       2,
		Failed:        1,
		TotalInterest: decimal.RequireFromString("12.5"),
		TotalFees:     decimal.RequireFromString("1"),
		StartedAt:     start,
		FinishedAt:    start.Add(2 * time.Second),
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("timer", "partial")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.accounts.WithLabelValues("paid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.accounts.WithLabelValues("failed")))
	assert.Equal(t, 12.5, testutil.ToFloat64(m.interestTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.feesTotal))
	assert.Equal(t, float64(start.Add(2*time.Second).Unix()), testutil.ToFloat64(m.lastRun))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() { m.observe(&Run{}) })
}
