package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every rttmon metric.
const Namespace = "rttmon"

// Metrics holds the collectors updated while monitoring and serving. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	linesTotal     prometheus.Counter
	markersTotal   *prometheus.CounterVec
	malformedTotal prometheus.Counter
	runsTotal      *prometheus.CounterVec
	tests          *prometheus.GaugeVec
	runDuration    prometheus.Histogram
	apiRequests    *prometheus.CounterVec
}

// New registers the rttmon collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		linesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "lines_total",
			Help:      "Number of non-empty RTT lines processed",
		}),
		markersTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "markers_total",
			Help:      "Number of recognised markers by kind",
		}, []string{"kind"}),
		malformedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "malformed_markers_total",
			Help:      "Number of markers that matched a grammar but could not be decoded",
		}),
		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "runs_total",
			Help:      "Number of monitoring runs by outcome",
		}, []string{"outcome"}),
		tests: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "tests",
			Help:      "Number of tests in the current run by status",
		}, []string{"status"}),
		runDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of monitoring runs",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),
		apiRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "api_requests_total",
			Help:      "Number of API requests by method, route and status code",
		}, []string{"method", "route", "code"}),
	}
}

// ObserveLine counts one processed line.
func (m *Metrics) ObserveLine() {
	if m == nil {
		return
	}

	m.linesTotal.Inc()
}

// ObserveMarker counts one recognised marker of kind.
func (m *Metrics) ObserveMarker(kind string) {
	if m == nil {
		return
	}

	m.markersTotal.WithLabelValues(kind).Inc()
}

// ObserveMalformed counts one undecodable marker.
func (m *Metrics) ObserveMalformed() {
	if m == nil {
		return
	}

	m.malformedTotal.Inc()
}

// SetTests replaces the per-status test gauge with counts.
func (m *Metrics) SetTests(counts map[string]int) {
	if m == nil {
		return
	}

	m.tests.Reset()

	for status, n := range counts {
		m.tests.WithLabelValues(status).Set(float64(n))
	}
}

// ObserveRun records a finished run.
func (m *Metrics) ObserveRun(outcome string, d time.Duration) {
	if m == nil {
		return
	}

	m.runsTotal.WithLabelValues(outcome).Inc()
	m.runDuration.Observe(d.Seconds())
}

// ObserveRequest counts one API request.
func (m *Metrics) ObserveRequest(method, route string, code int) {
	if m == nil {
		return
	}

	m.apiRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
}
