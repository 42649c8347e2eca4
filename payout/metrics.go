package payout

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the operator-facing counters for payout batches.
type Metrics struct {
	runs          *prometheus.CounterVec
	accounts      *prometheus.CounterVec
	interestTotal prometheus.Counter
	feesTotal     prometheus.Counter
	runDuration   prometheus.Histogram
	lastRun       prometheus.Gauge
}

// NewMetrics registers the payout metrics on reg. A nil reg uses the
// default prometheus registerer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_payout_runs_total", namespace),
			Help: "Payout batches by trigger and final status",
		}, []string{"trigger", "status"}),
		accounts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_payout_accounts_total", namespace),
			Help: "Accounts processed by outcome",
		}, []string{"outcome"}),
		interestTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_interest_paid_total", namespace),
			Help: "Gross interest credited",
		}),
		feesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_low_balance_fees_total", namespace),
			Help: "Low balance fees charged",
		}),
		runDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    fmt.Sprintf("%s_payout_run_duration_seconds", namespace),
			Help:    "Duration of a payout batch",
			Buckets: prometheus.DefBuckets,
		}),
		lastRun: factory.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_payout_last_run_timestamp_seconds", namespace),
			Help: "Unix time the last payout batch finished",
		}),
	}
}

func (m *Metrics) observe(r *Run) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(string(r.Trigger), string(r.Status)).Inc()
	m.accounts.WithLabelValues(string(OutcomePaid)).Add(float64(r.Paid))
	m.accounts.WithLabelValues(string(OutcomeSkipped)).Add(float64(r.Skipped))
	m.accounts.WithLabelValues(string(OutcomeFailed)).Add(float64(r.Failed))
	if r.TotalInterest.IsPositive() {
		m.interestTotal.Add(r.TotalInterest.InexactFloat64())
	}
	if r.TotalFees.IsPositive() {
		m.feesTotal.Add(r.TotalFees.InexactFloat64())
	}
	m.runDuration.Observe(r.FinishedAt.Sub(r.StartedAt).Seconds())
	m.lastRun.Set(float64(r.FinishedAt.Unix()))
}
