package metrics_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hospiverse/clinic-engine/metrics"
)

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *metrics.Metrics
	assert.NotPanics(t, func() {
		m.ObserveTransition("book", metrics.OutcomeOK)
		m.ObserveAccess("manageStaff", false)
		m.ObserveResolution("timeout")
		m.ObserveReconcileFailure()
		m.ObserveHTTP("GET", "/healthz", "200", time.Millisecond)
	})
}

func TestMetrics_Counts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.ObserveTransition("settle", metrics.OutcomeOK)
	m.ObserveTransition("settle", metrics.OutcomeNoop)
	m.ObserveAccess("settleBill", false)
	m.ObserveReconcileFailure()
	m.ObserveReconcileFailure()

	families, err := reg.Gather()
	require.NoError(t, err)

	byName := map[string]float64{}
	for _, f := range families {
		for _, metric := range f.GetMetric() {
			if c := metric.GetCounter(); c != nil {
				byName[f.GetName()] += c.GetValue()
			}
		}
	}
	assert.Equal(t, 2.0, byName["clinic_appointment_transitions_total"])
	assert.Equal(t, 1.0, byName["clinic_access_decisions_total"])
	assert.Equal(t, 2.0, byName["clinic_staff_reconcile_failures_total"])
}
