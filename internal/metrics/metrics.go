package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels.
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeSkipped  = "skipped"
	OutcomeFallback = "fallback"
)

// Metrics groups the collectors exported on /metrics. A nil *Metrics is a
// valid no-op recorder.
type Metrics struct {
	analysisBatches  *prometheus.CounterVec
	analysisDuration *prometheus.HistogramVec
	mpesaFallbacks   prometheus.Counter
	submissions      *prometheus.CounterVec
	activeDrafts     prometheus.Gauge
}

// New registers the application collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		analysisBatches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mediloan_analysis_batches_total",
				Help: "Analysis batches by document category and outcome",
			},
			[]string{"category", "outcome"},
		),
		analysisDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mediloan_analysis_batch_duration_seconds",
				Help:    "Wall time of one analysis batch",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
			},
			[]string{"category"},
		),
		mpesaFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "mediloan_mpesa_fallbacks_total",
			Help: "M-Pesa batches replaced by an empty result after failure or timeout",
		}),
		submissions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mediloan_submissions_total",
				Help: "Loan application submissions by outcome",
			},
			[]string{"outcome"},
		),
		activeDrafts: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mediloan_active_drafts",
			Help: "Draft applications currently held in memory",
		}),
	}
}

// ObserveBatch records one finished analysis batch.
func (m *Metrics) ObserveBatch(category, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.analysisBatches.WithLabelValues(category, outcome).Inc()
	if outcome != OutcomeSkipped {
		m.analysisDuration.WithLabelValues(category).Observe(elapsed.Seconds())
	}
}

// MpesaFallback counts a degraded M-Pesa batch.
func (m *Metrics) MpesaFallback() {
	if m == nil {
		return
	}
	m.mpesaFallbacks.Inc()
}

// Submission counts a submit attempt.
func (m *Metrics) Submission(outcome string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(outcome).Inc()
}

// SetActiveDrafts publishes the number of live drafts.
func (m *Metrics) SetActiveDrafts(n int) {
	if m == nil {
		return
	}
	m.activeDrafts.Set(float64(n))
}
