// Package prometheus exports turn controller events as Prometheus metrics.
package prometheus

import (
	"net/http"

	"github.com/harunnryd/viva/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "viva"

// Observer translates metrics events into collectors on its own registry.
type Observer struct {
	registry *prometheus.Registry

	transitions   *prometheus.CounterVec
	submissions   *prometheus.CounterVec
	evaluations   *prometheus.CounterVec
	bargeIns      prometheus.Counter
	deliveries    *prometheus.CounterVec
	captureErrors *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	active        prometheus.Gauge
}

func New() *Observer {
	o := &Observer{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "turn_transitions_total",
				Help:      "Turn phase transitions",
			},
			[]string{"from", "to"},
		),
		submissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "submissions_total",
				Help:      "Answer submissions by outcome",
			},
			[]string{"outcome"}, // ok, rejected, failed
		),
		evaluations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "evaluations_total",
				Help:      "Turn evaluation decisions",
			},
			[]string{"action", "source"}, // source: remote, heuristic
		),
		bargeIns: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "barge_ins_total",
				Help:      "Interrupts raised by the barge-in monitor",
			},
		),
		deliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "avatar_deliveries_total",
				Help:      "Question deliveries by backend and outcome",
			},
			[]string{"backend", "outcome"},
		),
		captureErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "capture_errors_total",
				Help:      "Speech capture errors by kind",
			},
			[]string{"kind"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "turn_latency_seconds",
				Help:      "Latency between turn milestones",
				Buckets:   []float64{.1, .25, .5, 1, 2, 4, 8, 15, 30, 60, 120},
			},
			[]string{"stage"},
		),
		active: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sessions_active",
				Help:      "Interview sessions currently running",
			},
		),
	}
	o.registry.MustRegister(
		o.transitions,
		o.submissions,
		o.evaluations,
		o.bargeIns,
		o.deliveries,
		o.captureErrors,
		o.latency,
		o.active,
	)
	return o
}

// Handler serves the registry in the Prometheus text format.
func (o *Observer) Handler() http.Handler {
	return promhttp.HandlerFor(o.registry, promhttp.HandlerOpts{})
}

func (o *Observer) Registry() *prometheus.Registry { return o.registry }

func (o *Observer) RecordEvent(ev metrics.MetricsEvent) {
	switch ev.Name {
	case "turn_state":
		o.transitions.WithLabelValues(ev.Tag("from"), ev.Tag("to")).Inc()
	case "submit":
		o.submissions.WithLabelValues(ev.Tag("outcome")).Inc()
	case "evaluation":
		o.evaluations.WithLabelValues(ev.Tag("action"), ev.Tag("source")).Inc()
	case "barge_in":
		o.bargeIns.Inc()
	case "avatar_delivery":
		o.deliveries.WithLabelValues(ev.Tag("backend"), ev.Tag("outcome")).Inc()
	case "capture_error":
		o.captureErrors.WithLabelValues(ev.Tag("kind")).Inc()
	case "latency":
		o.latency.WithLabelValues(ev.Tag("stage")).Observe(ev.Value)
	case "session_started":
		o.active.Inc()
	case "session_completed":
		o.active.Dec()
	}
}

var _ metrics.Observer = (*Observer)(nil)
