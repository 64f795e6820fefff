package telemetry

import (
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the prometheus collectors for debate runs. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry
	logger   *log.Logger

	runs            *prometheus.CounterVec
	pathFailures    *prometheus.CounterVec
	reasonerCalls   *prometheus.CounterVec
	responderCalls  *prometheus.CounterVec
	runDuration     prometheus.Histogram
	activeRunsGauge prometheus.Gauge
}

// NewMetrics registers all collectors on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		logger:   log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "issuelab_runs_total",
			Help: "Completed orchestration runs by final status.",
		}, []string{"status"}),
		pathFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "issuelab_path_failures_total",
			Help: "Debate path failures by path and failing stage.",
		}, []string{"path", "stage"}),
		reasonerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "issuelab_reasoner_calls_total",
			Help: "Reasoner JSON task calls by task and outcome.",
		}, []string{"task", "outcome"}),
		responderCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "issuelab_responder_calls_total",
			Help: "Responder chat calls by outcome.",
		}, []string{"outcome"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "issuelab_run_duration_seconds",
			Help:    "Wall clock duration of orchestration runs.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}),
		activeRunsGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "issuelab_active_runs",
			Help: "Runs currently in progress.",
		}),
	}
	m.registry.MustRegister(m.runs, m.pathFailures, m.reasonerCalls, m.responderCalls, m.runDuration, m.activeRunsGauge)
	return m
}

// Handler exposes the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RunStarted marks a run as in flight.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.activeRunsGauge.Inc()
}

// RunFinished records a run outcome and its duration.
func (m *Metrics) RunFinished(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.activeRunsGauge.Dec()
	m.runs.WithLabelValues(status).Inc()
	m.runDuration.Observe(elapsed.Seconds())
	m.logger.Printf("run finished status=%s elapsed=%s", status, elapsed.Round(time.Millisecond))
}

func (m *Metrics) PathFailed(path, stage string) {
	if m == nil {
		return
	}
	m.pathFailures.WithLabelValues(path, stage).Inc()
}

func (m *Metrics) ReasonerCall(task, outcome string) {
	if m == nil {
		return
	}
	m.reasonerCalls.WithLabelValues(task, outcome).Inc()
}

func (m *Metrics) ResponderCall(outcome string) {
	if m == nil {
		return
	}
	m.responderCalls.WithLabelValues(outcome).Inc()
}
