package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestObserveBatchCountsByOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveBatch("assets", OutcomeSuccess, 120*time.Millisecond)
	m.ObserveBatch("assets", OutcomeSuccess, 80*time.Millisecond)
	m.ObserveBatch("payslips", OutcomeFailure, time.Second)
	m.MpesaFallback()
	m.Submission(OutcomeSuccess)

	require.Equal(t, 2.0, testutil.ToFloat64(m.analysisBatches.WithLabelValues("assets", OutcomeSuccess)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.analysisBatches.WithLabelValues("payslips", OutcomeFailure)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.mpesaFallbacks))
	require.Equal(t, 1.0, testutil.ToFloat64(m.submissions.WithLabelValues(OutcomeSuccess)))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveBatch("assets", OutcomeSuccess, time.Second)
	m.MpesaFallback()
	m.Submission(OutcomeFailure)
	m.SetActiveDrafts(3)
}
