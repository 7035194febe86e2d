package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	require.NoError(t, m.Track("notify:email").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("notify:email").End(boom), boom)

	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("notify:email", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("notify:email", "failure")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("notify:email")))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.Enqueued("notify:sms", nil)
	require.NoError(t, m.Track("x").End(nil))
}

func TestEnqueuedCountsByOutcome(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.Enqueued("notify:sms", nil)
	m.Enqueued("notify:sms", errors.New("redis down"))
	require.Equal(t, 1.0, testutil.ToFloat64(m.enqueued.WithLabelValues("notify:sms", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.enqueued.WithLabelValues("notify:sms", "error")))
}
