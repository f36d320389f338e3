package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// value returns the value of the sample of family name whose labels include
// labels, or -1 when no such sample exists.
func value(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()

	families, err := reg.Gather()
	require.NoError(t, err)

	for _, family := range families {
		if family.GetName() != name {
			continue
		}

		for _, metric := range family.GetMetric() {
			if !hasLabels(metric, labels) {
				continue
			}

			switch {
			case metric.GetCounter() != nil:
				return metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				return metric.GetGauge().GetValue()
			case metric.GetHistogram() != nil:
				return float64(metric.GetHistogram().GetSampleCount())
			}
		}
	}

	return -1
}

func hasLabels(metric *dto.Metric, labels map[string]string) bool {
	matched := 0

	for _, pair := range metric.GetLabel() {
		if want, ok := labels[pair.GetName()]; ok && want == pair.GetValue() {
			matched++
		}
	}

	return matched == len(labels)
}

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveLine()
	m.ObserveLine()
	m.ObserveMarker("status")
	m.ObserveMarker("status")
	m.ObserveMarker("result")
	m.ObserveMalformed()
	m.SetTests(map[string]int{"TEST_PASS": 2, "TEST_FAIL": 1})
	m.ObserveRun("succeeded", 3*time.Second)
	m.ObserveRequest("GET", "/api/v1/runs", 200)

	assert.InDelta(t, 2, value(t, reg, "rttmon_lines_total", nil), 0)
	assert.InDelta(t, 2, value(t, reg, "rttmon_markers_total", map[string]string{"kind": "status"}), 0)
	assert.InDelta(t, 1, value(t, reg, "rttmon_markers_total", map[string]string{"kind": "result"}), 0)
	assert.InDelta(t, 1, value(t, reg, "rttmon_malformed_markers_total", nil), 0)
	assert.InDelta(t, 2, value(t, reg, "rttmon_tests", map[string]string{"status": "TEST_PASS"}), 0)
	assert.InDelta(t, 1, value(t, reg, "rttmon_runs_total", map[string]string{"outcome": "succeeded"}), 0)
	assert.InDelta(t, 1, value(t, reg, "rttmon_run_duration_seconds", nil), 0)
	assert.InDelta(t, 1, value(t, reg, "rttmon_api_requests_total", map[string]string{
		"method": "GET", "route": "/api/v1/runs", "code": "200",
	}), 0)

	// Statuses that no longer occur are dropped.
	m.SetTests(map[string]int{"TEST_RUNNING": 1})
	assert.InDelta(t, -1, value(t, reg, "rttmon_tests", map[string]string{"status": "TEST_PASS"}), 0)
	assert.InDelta(t, 1, value(t, reg, "rttmon_tests", map[string]string{"status": "TEST_RUNNING"}), 0)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.ObserveLine()
		m.ObserveMarker("log")
		m.ObserveMalformed()
		m.SetTests(map[string]int{"TEST_PASS": 1})
		m.ObserveRun("timed_out", time.Second)
		m.ObserveRequest("GET", "/", 200)
	})
}
