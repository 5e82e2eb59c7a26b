// filename: internal/correlator/metrics.go
package correlator

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics метрики движка корреляции для Prometheus
type Metrics struct {
	EventsReceived    prometheus.Counter
	EventsMatched     prometheus.Counter
	EventsDropped     prometheus.Counter
	SessionsCreated   prometheus.Counter
	SessionsExpired   prometheus.Counter
	SessionsAlerted   prometheus.Counter
	SessionsEvicted   prometheus.Counter
	AlertsEmitted     prometheus.Counter
	AlertsSuppressed  prometheus.Counter
	AlertsDropped     prometheus.Counter
	EvaluationErrors  prometheus.Counter
	ActiveSessions    prometheus.Gauge
	EvaluationSeconds *prometheus.HistogramVec
}

// NewMetrics создает и регистрирует метрики движка // v1.0
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ndrsec",
			Subsystem: "correlator",
			Name:      "events_received_total",
			Help:      "Number of events received for correlation",
		}),
		EventsMatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ndrsec",
			Subsystem: "correlator",
			Name:      "events_matched_total",
			Help:      "Number of rule matches after classification",
		}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ndrsec",
			Subsystem: "correlator",
			Name:      "events_dropped_total",
			Help:      "Number of events dropped due to a full ingest buffer",
		}),
		SessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ndrsec",
			Subsystem: "correlator",
			Name:      "sessions_created_total",
			Help:      "Number of correlation sessions opened",
		}),
		SessionsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ndrsec",
			Subsystem: "correlator",
			Name:      "sessions_expired_total",
			Help:      "Number of sessions closed by window expiry",
		}),
		SessionsAlerted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ndrsec",
			Subsystem: "correlator",
			Name:      "sessions_alerted_total",
			Help:      "Number of sessions closed with the condition met",
		}),
		SessionsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ndrsec",
			Subsystem: "correlator",
			Name:      "sessions_evicted_total",
			Help:      "Number of sessions evicted at session capacity",
		}),
		AlertsEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ndrsec",
			Subsystem: "correlator",
			Name:      "alerts_emitted_total",
			Help:      "Number of alerts handed to the sink",
		}),
		AlertsSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ndrsec",
			Subsystem: "correlator",
			Name:      "alerts_suppressed_total",
			Help:      "Number of alerts withheld by suppression windows",
		}),
		AlertsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ndrsec",
			Subsystem: "correlator",
			Name:      "alerts_dropped_total",
			Help:      "Number of alerts dropped after delivery retries were exhausted",
		}),
		EvaluationErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ndrsec",
			Subsystem: "correlator",
			Name:      "evaluation_errors_total",
			Help:      "Number of rule evaluation failures",
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ndrsec",
			Subsystem: "correlator",
			Name:      "active_sessions",
			Help:      "Number of open correlation sessions",
		}),
		EvaluationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ndrsec",
			Subsystem: "correlator",
			Name:      "evaluation_seconds",
			Help:      "Per-event rule evaluation latency",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 2, 14),
		}, []string{"rule_id"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.EventsReceived,
			m.EventsMatched,
			m.EventsDropped,
			m.SessionsCreated,
			m.SessionsExpired,
			m.SessionsAlerted,
			m.SessionsEvicted,
			m.AlertsEmitted,
			m.AlertsSuppressed,
			m.AlertsDropped,
			m.EvaluationErrors,
			m.ActiveSessions,
			m.EvaluationSeconds,
		)
	}
	return m
}
