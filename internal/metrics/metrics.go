// Package metrics owns the Prometheus collectors of the bot.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is safe to use as a nil pointer; every recorder is then a no-op.
type Metrics struct {
	registry   *prometheus.Registry
	actions    *prometheus.CounterVec
	executions *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	deliveries *prometheus.CounterVec
	inflight   prometheus.Gauge
}

// New registers all collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fleetbot",
			Name:      "actions_total",
			Help:      "Inbound chat actions by verb and result.",
		}, []string{"verb", "result"}),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fleetbot",
			Name:      "executions_total",
			Help:      "Remote executions by server, mode and result.",
		}, []string{"server", "mode", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fleetbot",
			Name:      "execution_duration_seconds",
			Help:      "Remote execution wall time.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"server", "mode"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fleetbot",
			Name:      "deliveries_total",
			Help:      "Result deliveries by kind.",
		}, []string{"kind"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fleetbot",
			Name:      "executions_inflight",
			Help:      "Executions submitted and not yet delivered.",
		}),
	}
	m.registry.MustRegister(
		m.actions, m.executions, m.duration, m.deliveries, m.inflight,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Action counts one routed action.
func (m *Metrics) Action(verb, result string) {
	if m == nil {
		return
	}
	m.actions.WithLabelValues(verb, result).Inc()
}

// ExecutionStarted bumps the inflight gauge.
func (m *Metrics) ExecutionStarted() {
	if m == nil {
		return
	}
	m.inflight.Inc()
}

// ExecutionAborted undoes ExecutionStarted for a job that never ran.
func (m *Metrics) ExecutionAborted() {
	if m == nil {
		return
	}
	m.inflight.Dec()
}

// ExecutionFinished records the outcome and drops the inflight gauge.
func (m *Metrics) ExecutionFinished(server, mode string, succeeded bool, took time.Duration) {
	if m == nil {
		return
	}
	m.inflight.Dec()
	result := "failure"
	if succeeded {
		result = "success"
	}
	m.executions.WithLabelValues(server, mode, result).Inc()
	m.duration.WithLabelValues(server, mode).Observe(took.Seconds())
}

// Delivery counts one delivery by kind.
func (m *Metrics) Delivery(kind string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(kind).Inc()
}

// Result is the label for an action outcome.
func Result(ok bool) string {
	return strconv.FormatBool(ok)
}
